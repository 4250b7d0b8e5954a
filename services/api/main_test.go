package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"

	"github.com/shng-go/shng/adapters/dummy"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/engine"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/pubsub"
	"github.com/shng-go/shng/scheduler"
	"github.com/shng-go/shng/series"
	"github.com/shng-go/shng/services"
)

const tree = `
living:
  temp:
    type: num
    dummy_address: X
  light:
    type: bool
`

var t0 = time.Unix(1700000000, 0)

func newServer(t *testing.T) (*httptest.Server, *Service) {
	var ms yaml.MapSlice
	require.NoError(t, yaml.Unmarshal([]byte(tree), &ms))
	reg := items.NewRegistry()
	require.NoError(t, reg.Build(ms))
	reg.Freeze()

	promReg := prometheus.NewRegistry()
	sched := scheduler.New(nil, 0)
	eng := engine.New(nil, reg, sched, nil, engine.NewMetrics(promReg))
	d := dummy.New()
	require.NoError(t, d.Configure(nil))
	require.NoError(t, eng.Add("A", config.AdapterConf{Type: "dummy", Cycle: config.Duration{Duration: time.Hour}}, d))
	require.NoError(t, eng.Start(context.Background()))

	store, err := series.Open(t.TempDir(), series.Options{Now: func() time.Time { return t0.Add(time.Hour) }}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Append("living.temp", t0, 1.0))
	require.NoError(t, store.Append("living.temp", t0.Add(30*time.Minute), 2.0))

	svc := &Service{Registry: reg, Engine: eng, Series: store, Gatherer: promReg}
	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		ts.Close()
		eng.Stop()
		sched.Stop()
		store.Close()
	})
	return ts, svc
}

func do(t *testing.T, method, url, body string) (int, string) {
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func ExampleService_ID() {
	var _ services.Service = (*Service)(nil)
	fmt.Println((&Service{}).ID())
	// Output:
	// api
}

func TestItems(t *testing.T) {
	ts, svc := newServer(t)

	code, body := do(t, "GET", ts.URL+"/items/living.temp", "")
	assert.Equal(t, http.StatusOK, code)
	var state items.State
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	assert.Equal(t, "living.temp", state.Path)
	assert.Equal(t, "num", state.Type)

	code, _ = do(t, "GET", ts.URL+"/items/living.nothing", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, "PUT", ts.URL+"/items/living.temp", "21.5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 21.5, svc.Registry.Get("living.temp").Value())

	code, _ = do(t, "PUT", ts.URL+"/items/living.light", "on")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, svc.Registry.Get("living.light").Value())

	code, _ = do(t, "PUT", ts.URL+"/items/living.temp", `"warm"`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, "GET", ts.URL+"/items", "")
	assert.Equal(t, http.StatusOK, code)
	var states []items.State
	require.NoError(t, json.Unmarshal([]byte(body), &states))
	assert.Len(t, states, 2)
}

func TestStatusAndRestart(t *testing.T) {
	ts, _ := newServer(t)

	code, body := do(t, "GET", ts.URL+"/status", "")
	assert.Equal(t, http.StatusOK, code)
	var snap struct {
		Adapters []struct {
			ID    string
			State string
		}
	}
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	require.Len(t, snap.Adapters, 1)
	assert.Equal(t, "A", snap.Adapters[0].ID)

	code, body = do(t, "GET", ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"healthy"`)

	code, _ = do(t, "POST", ts.URL+"/adapters/A/restart", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, "POST", ts.URL+"/adapters/Z/restart", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, "GET", ts.URL+"/adapters/A/restart", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, body = do(t, "GET", ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `shng_adapter_degraded{adapter="A"} 0`)
}

func TestSeries(t *testing.T) {
	ts, _ := newServer(t)
	window := fmt.Sprintf("start=%d&end=%d", t0.UnixMilli(), t0.Add(time.Hour).UnixMilli())

	code, body := do(t, "GET", ts.URL+"/series/living.temp?func=avg&count=2&"+window, "")
	require.Equal(t, http.StatusOK, code, body)
	var res series.Result
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, []interface{}{1.0, 2.0}, res.Values)
	assert.Equal(t, []int64{t0.UnixMilli(), t0.Add(30 * time.Minute).UnixMilli()}, res.Timestamps)

	code, body = do(t, "GET", ts.URL+"/single/living.temp?func=avg&"+window, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.5\n", body)

	code, _ = do(t, "GET", ts.URL+"/series/living.temp?count=x", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, body = do(t, "GET", ts.URL+"/series/living.temp?count=10001", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "invalid count")
	code, _ = do(t, "GET", ts.URL+"/series/living.temp?func=median", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, "GET", ts.URL+"/single/living.nothing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestQuery(t *testing.T) {
	bus := pubsub.NewBus()
	services.Publisher, services.Subscriber = bus, bus
	ts, _ := newServer(t)

	// a responder standing in for a Queryable service
	queries := bus.Subscribe(pubsub.Exact(pubsub.QueryTopic))
	go func() {
		for ev := range queries {
			reply := pubsub.NewEvent(ev.StringField("reply_to"), pubsub.Fields{"message": "pong " + ev.StringField("query")})
			bus.Emit(reply)
		}
	}()
	defer bus.Close(queries)

	code, body := do(t, "GET", ts.URL+"/query/ping?q=x", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"message":"pong ping x"`)
}
