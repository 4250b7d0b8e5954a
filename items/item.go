package items

import (
	"sync"
	"time"

	"github.com/shng-go/shng/util"
)

// Origin of an update.
type Origin int

const (
	OriginInit Origin = iota
	OriginUser
	OriginScheduler
	OriginAdapter
)

func (o Origin) String() string {
	switch o {
	case OriginUser:
		return "user"
	case OriginScheduler:
		return "scheduler"
	case OriginAdapter:
		return "adapter"
	default:
		return "init"
	}
}

// Caller identifies who set a value. The write dispatcher compares the caller of
// a change with the adapter owning a write binding to suppress echoes.
type Caller struct {
	Origin Origin
	ID     string
}

func (c Caller) String() string {
	if c.ID == "" {
		return c.Origin.String()
	}
	return c.Origin.String() + ":" + c.ID
}

// IsAdapter reports whether the caller is the adapter instance id.
func (c Caller) IsAdapter(id string) bool {
	return c.Origin == OriginAdapter && c.ID == id
}

func User(id string) Caller      { return Caller{OriginUser, id} }
func Adapter(id string) Caller   { return Caller{OriginAdapter, id} }
func Scheduler(id string) Caller { return Caller{OriginScheduler, id} }

var Init = Caller{Origin: OriginInit}

// Change is passed to subscribers after every successful set.
type Change struct {
	Item    *Item
	Old     interface{}
	New     interface{}
	Changed bool
	Caller  Caller
	Source  string
	Dest    string
	Time    time.Time
}

// Subscription identifies a subscriber so it can be removed again.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn func(Change)
}

// Item is a named, typed value in the registry.
type Item struct {
	path     string
	typ      Type
	parent   *Item
	children []*Item
	attrs    map[string]string

	// serialises sets, including subscriber notification
	setMu sync.Mutex

	mu         sync.RWMutex
	value      interface{}
	version    uint64
	lastUpdate time.Time
	lastChange time.Time
	subs       []subscriber
}

func (i *Item) Path() string { return i.path }

func (i *Item) Type() Type { return i.typ }

// Name is the last path segment.
func (i *Item) Name() string {
	for n := len(i.path) - 1; n >= 0; n-- {
		if i.path[n] == '.' {
			return i.path[n+1:]
		}
	}
	return i.path
}

// Parent is nil for top level items.
func (i *Item) Parent() *Item { return i.parent }

func (i *Item) Children() []*Item {
	return append([]*Item(nil), i.children...)
}

// Attr returns the value of an attribute declared on the item.
func (i *Item) Attr(name string) (string, bool) {
	v, ok := i.attrs[name]
	return v, ok
}

// Attrs returns a copy of the attribute map.
func (i *Item) Attrs() map[string]string {
	ret := make(map[string]string, len(i.attrs))
	for k, v := range i.attrs {
		ret[k] = v
	}
	return ret
}

func (i *Item) Value() interface{} {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.value
}

func (i *Item) Version() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.version
}

func (i *Item) LastUpdate() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastUpdate
}

func (i *Item) LastChange() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastChange
}

// State is a consistent copy of an item's value and timestamps.
type State struct {
	Path       string      `json:"path"`
	Type       string      `json:"type"`
	Value      interface{} `json:"value"`
	Version    uint64      `json:"version"`
	LastUpdate time.Time   `json:"last_update"`
	LastChange time.Time   `json:"last_change"`
}

func (i *Item) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return State{
		Path:       i.path,
		Type:       i.typ.String(),
		Value:      i.value,
		Version:    i.version,
		LastUpdate: i.lastUpdate,
		LastChange: i.lastChange,
	}
}

// EnforceUpdates reports whether subscribers should treat every set as a change.
func (i *Item) EnforceUpdates() bool {
	v, ok := i.attrs["enforce_updates"]
	return ok && util.IsTrue(v)
}
