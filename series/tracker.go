package series

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/scheduler"
	"github.com/shng-go/shng/util"
)

// Attr marks an item for series tracking.
const Attr = "series"

// Tracker appends the values of tracked items to a store.
type Tracker struct {
	log      *zap.SugaredLogger
	store    *Store
	registry *items.Registry

	mu   sync.Mutex
	subs map[string]items.Subscription
}

func NewTracker(log *zap.SugaredLogger, store *Store, registry *items.Registry) *Tracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Tracker{log: log, store: store, registry: registry, subs: map[string]items.Subscription{}}
}

// Start subscribes to every item with a true series attribute and records
// its current value.
func (self *Tracker) Start() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, item := range self.registry.FindByAttribute(Attr) {
		attr, _ := item.Attr(Attr)
		if !util.IsTrue(attr) {
			continue
		}
		switch item.Type() {
		case items.TypeNum, items.TypeStr, items.TypeBool:
		default:
			self.log.Warnw("Series not supported for item type", "item", item.Path(), "type", item.Type())
			continue
		}
		if _, ok := self.subs[item.Path()]; ok {
			continue
		}
		id, err := self.registry.Subscribe(item.Path(), self.changed)
		if err != nil {
			return err
		}
		self.subs[item.Path()] = id
		ts := item.LastUpdate()
		if ts.IsZero() {
			ts = self.store.now()
		}
		self.append(item.Path(), ts, item.Value())
	}
	self.log.Infow("Series tracking", "items", len(self.subs))
	return nil
}

func (self *Tracker) changed(c items.Change) {
	self.append(c.Item.Path(), c.Time, c.New)
}

func (self *Tracker) append(path string, ts time.Time, value interface{}) {
	if err := self.store.Append(path, ts, value); err != nil {
		self.log.Warnw("Series append failed", "item", path, "error", err)
	}
}

// Tracked items, sorted.
func (self *Tracker) Tracked() []string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return util.SortedKeys(self.subs)
}

func (self *Tracker) Stop() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for path, id := range self.subs {
		self.registry.Unsubscribe(path, id)
	}
	self.subs = map[string]items.Subscription{}
}

// Schedule a periodic Sync of the store.
func (self *Tracker) Schedule(sched *scheduler.Scheduler, interval time.Duration) error {
	return sched.Add("series.sync", func(context.Context) {
		if err := self.store.Sync(); err != nil {
			self.log.Errorw("Series sync failed", "error", err)
		}
	}, scheduler.Options{Cycle: interval, Priority: -1})
}
