// Package api is a service providing an HTTP REST API to the items, adapters
// and series of shng.
//
// The endpoints supported are:
//
// GET /status - adapter and item snapshot
//
// GET /health - aggregate health, 503 when unhealthy
//
// GET /items, GET /items/{path} - item states
//
// PUT /items/{path} - set an item from a JSON value
//
// POST /adapters/{id}/restart - restart a degraded adapter
//
// GET /series/{item}?func=avg&start=now-1h&end=now&count=60 - series query
//
// GET /single/{item}?func=max&start=now-1d - single consolidated value
//
// GET /query/{query} - ask the Queryable services over the bus (line delimited)
//
// GET /events/feed?topics=item,set - continuous stream of bus events (line delimited)
//
// GET /metrics - prometheus metrics
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shng-go/shng/engine"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/pubsub"
	"github.com/shng-go/shng/series"
	"github.com/shng-go/shng/services"
)

// APICaller is the caller recorded for items set through the API.
var APICaller = items.User("api")

// Service api
type Service struct {
	Addr     string
	Log      *zap.SugaredLogger
	Registry *items.Registry
	Engine   *engine.Engine
	Series   *series.Store
	Gatherer prometheus.Gatherer
}

// ID of the service
func (service *Service) ID() string {
	return "api"
}

func errorResponse(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

func jsonResponse(w http.ResponseWriter, obj interface{}) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	if err := enc.Encode(obj); err != nil {
		errorResponse(w, http.StatusInternalServerError, err)
	}
}

// statusOf maps an error class to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, items.ErrUnknownItem):
		return http.StatusNotFound
	case errors.IsType(err), errors.IsBinding(err), errors.IsConfig(err):
		return http.StatusBadRequest
	case errors.IsPermanent(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func apiIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "text/html")
	fmt.Fprintf(w, "<html>shng is listening</html>")
}

func (service *Service) apiStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, service.Engine.Status())
}

func (service *Service) apiHealth(w http.ResponseWriter, r *http.Request) {
	health := service.Engine.Health()
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	jsonResponse(w, health)
}

func (service *Service) apiItems(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, service.Registry.States())
}

func (service *Service) item(w http.ResponseWriter, r *http.Request) *items.Item {
	path := mux.Vars(r)["path"]
	item := service.Registry.Get(path)
	if item == nil {
		errorResponse(w, http.StatusNotFound, errors.Wrap(items.ErrUnknownItem, path))
	}
	return item
}

func (service *Service) apiItem(w http.ResponseWriter, r *http.Request) {
	if item := service.item(w, r); item != nil {
		jsonResponse(w, item.State())
	}
}

func (service *Service) apiItemSet(w http.ResponseWriter, r *http.Request) {
	item := service.item(w, r)
	if item == nil {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		// bare text is accepted too
		value = strings.TrimSpace(string(data))
	}
	value, err = item.Type().Convert(value)
	if err == nil {
		err = service.Registry.Set(item.Path(), value, APICaller, r.RemoteAddr, "")
	}
	if err != nil {
		errorResponse(w, statusOf(err), err)
		return
	}
	jsonResponse(w, item.State())
}

func (service *Service) apiRestart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if service.Engine.Instance(id) == nil {
		errorResponse(w, http.StatusNotFound, errors.Errorf("unknown adapter %s", id))
		return
	}
	if err := service.Engine.Restart(id); err != nil {
		errorResponse(w, statusOf(err), err)
		return
	}
	jsonResponse(w, service.Engine.Instance(id).Status())
}

func (service *Service) seriesQuery(w http.ResponseWriter, r *http.Request) (series.Query, bool) {
	item := mux.Vars(r)["item"]
	q := r.URL.Query()
	query := series.Query{
		Item:  item,
		Func:  series.Func(q.Get("func")),
		Start: q.Get("start"),
		End:   q.Get("end"),
	}
	if service.Series == nil {
		errorResponse(w, http.StatusNotFound, errors.New("series disabled"))
		return query, false
	}
	if service.Registry.Get(item) == nil {
		errorResponse(w, http.StatusNotFound, errors.Wrap(items.ErrUnknownItem, item))
		return query, false
	}
	if c := q.Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > series.MaxCount {
			errorResponse(w, http.StatusBadRequest, errors.Errorf("invalid count %q", c))
			return query, false
		}
		query.Count = n
	}
	return query, true
}

func (service *Service) apiSeries(w http.ResponseWriter, r *http.Request) {
	query, ok := service.seriesQuery(w, r)
	if !ok {
		return
	}
	res, err := service.Series.Series(query)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	jsonResponse(w, res)
}

func (service *Service) apiSingle(w http.ResponseWriter, r *http.Request) {
	query, ok := service.seriesQuery(w, r)
	if !ok {
		return
	}
	value, err := service.Series.Single(query.Item, query.Func, query.Start, query.End)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err)
		return
	}
	jsonResponse(w, value)
}

func apiQuery(w http.ResponseWriter, r *http.Request) {
	q := mux.Vars(r)["query"]
	if extra := r.URL.Query().Get("q"); extra != "" {
		q += " " + extra
	}
	w.Header().Add("Content-Type", "application/json; boundary=NL")
	for ev := range services.QueryChannel(q, 100*time.Millisecond) {
		fmt.Fprintf(w, "%s\r\n", ev.String())
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func apiEventsFeed(w http.ResponseWriter, r *http.Request) {
	var topics []pubsub.Topic
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, pubsub.Prefix(t))
		}
	}
	if len(topics) == 0 {
		topics = append(topics, pubsub.All())
	}
	w.Header().Add("Content-Type", "application/json; boundary=NL")

	ch := services.Subscriber.Subscribe(topics...)
	defer services.Subscriber.Close(ch)
	encoder := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := encoder.Encode(ev.Map()); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

func (service *Service) router() *mux.Router {
	router := mux.NewRouter()
	router.Path("/").HandlerFunc(apiIndex)
	router.Path("/status").Methods(http.MethodGet).HandlerFunc(service.apiStatus)
	router.Path("/health").Methods(http.MethodGet).HandlerFunc(service.apiHealth)
	router.Path("/items").Methods(http.MethodGet).HandlerFunc(service.apiItems)
	router.Path("/items/{path}").Methods(http.MethodGet).HandlerFunc(service.apiItem)
	router.Path("/items/{path}").Methods(http.MethodPut).HandlerFunc(service.apiItemSet)
	router.Path("/adapters/{id}/restart").Methods(http.MethodPost).HandlerFunc(service.apiRestart)
	router.Path("/series/{item}").Methods(http.MethodGet).HandlerFunc(service.apiSeries)
	router.Path("/single/{item}").Methods(http.MethodGet).HandlerFunc(service.apiSingle)
	router.Path("/query/{query:.+}").HandlerFunc(apiQuery)
	router.Path("/events/feed").HandlerFunc(apiEventsFeed)
	gatherer := service.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Path("/metrics").Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return router
}

type loggingHandler struct {
	Handler http.Handler
	Log     *zap.SugaredLogger
}

func (service loggingHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	service.Log.Debugw("Request", "method", req.Method, "uri", req.RequestURI)
	service.Handler.ServeHTTP(w, req)
}

func (service *Service) Handler() http.Handler {
	if service.Log == nil {
		service.Log = zap.NewNop().Sugar()
	}
	return loggingHandler{Handler: service.router(), Log: service.Log}
}

// Run the service until ctx is done.
func (service *Service) Run(ctx context.Context) error {
	server := &http.Server{Addr: service.Addr, Handler: service.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() {
		service.Log.Infow("Listening", "addr", service.Addr)
		errs <- server.ListenAndServe()
	}()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdown)
	}
}
