// Package bridge connects the item registry to the message bus.
//
// Every item change is published, retained, as item/<path>. Events on
// set/<path> set the item with caller user:bus. The status, items, get, set,
// series and help queries are answered.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shng-go/shng/engine"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/pubsub"
	"github.com/shng-go/shng/series"
	"github.com/shng-go/shng/services"
	"github.com/shng-go/shng/util"
)

// BusCaller is the caller recorded for sets arriving from the bus.
var BusCaller = items.User("bus")

type Service struct {
	Log      *zap.SugaredLogger
	Registry *items.Registry
	Engine   *engine.Engine
	Series   *series.Store

	subs    map[string]items.Subscription
	started time.Time
}

func (self *Service) ID() string {
	return "bridge"
}

// Init subscribes to every item carrying a value.
func (self *Service) Init() error {
	if self.Log == nil {
		self.Log = zap.NewNop().Sugar()
	}
	self.subs = map[string]items.Subscription{}
	self.started = time.Now()
	for _, item := range self.Registry.All() {
		if item.Type() == items.TypeNone {
			continue
		}
		id, err := self.Registry.Subscribe(item.Path(), self.changed)
		if err != nil {
			return err
		}
		self.subs[item.Path()] = id
	}
	self.Log.Infow("Bridging items", "items", len(self.subs))
	return nil
}

func (self *Service) changed(c items.Change) {
	if !c.Changed && !c.Item.EnforceUpdates() {
		return
	}
	services.Publisher.Emit(pubsub.NewItemEvent(c.Item.Path(), c.New, c.Caller.String()))
}

func (self *Service) Run(ctx context.Context) error {
	ch := services.Subscriber.Subscribe(pubsub.Prefix(pubsub.SetTopic))
	defer services.Subscriber.Close(ch)
	defer self.unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := self.set(ev.Path(), ev.Value(), ev.Source()); err != nil {
				self.Log.Warnw("Bus set failed", "item", ev.Path(), "error", err)
			}
		}
	}
}

func (self *Service) unsubscribe() {
	for path, id := range self.subs {
		self.Registry.Unsubscribe(path, id)
	}
}

func (self *Service) set(path string, value interface{}, source string) error {
	item := self.Registry.Get(path)
	if item == nil {
		return errors.Wrap(items.ErrUnknownItem, path)
	}
	v, err := item.Type().Convert(value)
	if err != nil {
		return err
	}
	return self.Registry.Set(path, v, BusCaller, source, "")
}

func (self *Service) QueryHandlers() services.QueryHandlers {
	return services.QueryHandlers{
		"status": self.queryStatus,
		"items":  services.TextHandler(self.queryItems),
		"get":    services.TextHandler(self.queryGet),
		"set":    services.TextHandler(self.querySet),
		"series": self.querySeries,
		"help": services.StaticHandler("" +
			"status: adapter states\n" +
			"items [prefix]: item values\n" +
			"get <path>: item value\n" +
			"set <path> <value>: set an item\n" +
			"set <path>=<value> ...: set several items\n" +
			"series <item> [func] [start] [end]: consolidated series value\n" +
			"series <item> func=<func> start=<start> end=<end>\n"),
	}
}

func (self *Service) queryStatus(q services.Question) services.Answer {
	if self.Engine == nil {
		return services.Answer{Text: "no engine"}
	}
	health := self.Engine.Health()
	var lines []string
	lines = append(lines, fmt.Sprintf("%s (%d adapters), up %s", health.Status, health.Adapters,
		util.FriendlyDuration(time.Since(self.started))))
	for _, a := range self.Engine.Status().Adapters {
		line := fmt.Sprintf("%s [%s] %s errors=%d", a.ID, a.Type, a.State, a.ErrorCount)
		if !a.LastPoll.IsZero() {
			line += " polled " + util.ShortDuration(time.Since(a.LastPoll)) + " ago"
		}
		if a.LastError != "" {
			line += " last error: " + a.LastError
		}
		lines = append(lines, line)
	}
	return services.Answer{Text: strings.Join(lines, "\n"), Json: health}
}

func (self *Service) queryItems(q services.Question) string {
	var lines []string
	for _, state := range self.Registry.States() {
		if q.Args != "" && !strings.HasPrefix(state.Path, q.Args) {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s = %s", state.Path, items.Format(state.Value)))
	}
	if len(lines) == 0 {
		return "no items"
	}
	return strings.Join(lines, "\n")
}

func (self *Service) queryGet(q services.Question) string {
	item := self.Registry.Get(q.Args)
	if item == nil || item.Type() == items.TypeNone {
		return "unknown item: " + q.Args
	}
	return items.Format(item.Value())
}

func (self *Service) querySet(q services.Question) string {
	if strings.Contains(q.Args, "=") {
		return self.setMany(q)
	}
	path, text, _ := strings.Cut(q.Args, " ")
	item := self.Registry.Get(path)
	if item == nil || item.Type() == items.TypeNone {
		return "unknown item: " + path
	}
	value, err := item.Type().Parse(strings.TrimSpace(text))
	if err != nil {
		return err.Error()
	}
	if err := self.Registry.Set(path, value, BusCaller, q.From, ""); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("%s set to %s", path, items.Format(value))
}

// setMany sets every path=value pair of the question.
func (self *Service) setMany(q services.Question) string {
	_, fields := util.ParseArgs(strings.Fields(q.Args))
	var paths []string
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	var lines []string
	for _, path := range paths {
		item := self.Registry.Get(path)
		if item == nil || item.Type() == items.TypeNone {
			lines = append(lines, "unknown item: "+path)
			continue
		}
		value, err := item.Type().Convert(fields[path])
		if err == nil {
			err = self.Registry.Set(path, value, BusCaller, q.From, "")
		}
		if err != nil {
			lines = append(lines, err.Error())
			continue
		}
		lines = append(lines, fmt.Sprintf("%s set to %s", path, items.Format(value)))
	}
	return strings.Join(lines, "\n")
}

func (self *Service) querySeries(q services.Question) services.Answer {
	if self.Series == nil {
		return services.Answer{Text: "series disabled"}
	}
	args := strings.Fields(q.Args)
	if len(args) == 0 {
		return services.Answer{Text: "usage: series <item> [func] [start] [end]"}
	}
	if strings.Contains(q.Args, "=") {
		kw := util.KeywordArgs(args)
		args = []string{kw[""], kw["func"], kw["start"], kw["end"]}
	}
	for len(args) < 4 {
		args = append(args, "")
	}
	fn, err := series.ParseFunc(args[1])
	if err != nil {
		return services.Answer{Text: err.Error()}
	}
	value, err := self.Series.Single(args[0], fn, args[2], args[3])
	if err != nil {
		return services.Answer{Text: err.Error()}
	}
	text, _ := json.Marshal(value)
	return services.Answer{Text: string(text), Json: value}
}
