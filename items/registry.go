// Package items is the registry of named, typed values that adapters read and
// write.
//
// The registry is built once at startup and then frozen: no items are added or
// removed while the process runs, only their values change. Every set is type
// checked and notifies the item's subscribers synchronously, in the order they
// subscribed, before returning.
package items

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

var ErrUnknownItem = errors.New("unknown item")

var ErrFrozen = errors.New("registry is frozen")

type Registry struct {
	mu     sync.RWMutex
	items  map[string]*Item
	order  []*Item
	frozen bool

	nextSub uint64
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		items: map[string]*Item{},
		now:   time.Now,
	}
}

// SetClock replaces the clock used to stamp updates.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Add creates an item. Missing ancestors are created as structural items. The
// initial value is the zero value of the type unless the initial_value
// attribute is present.
func (r *Registry) Add(path string, typ Type, attrs map[string]string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil, ErrFrozen
	}
	return r.add(path, typ, attrs)
}

func (r *Registry) add(path string, typ Type, attrs map[string]string) (*Item, error) {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") {
		return nil, errors.Configf("items.Add", "invalid item path %q", path)
	}
	if _, exists := r.items[path]; exists {
		return nil, errors.Configf("items.Add", "duplicate item %q", path)
	}

	var parent *Item
	if n := strings.LastIndexByte(path, '.'); n > 0 {
		parent = r.items[path[:n]]
		if parent == nil {
			p, err := r.add(path[:n], TypeNone, nil)
			if err != nil {
				return nil, err
			}
			parent = p
		}
	}

	item := &Item{
		path:   path,
		typ:    typ,
		parent: parent,
		attrs:  map[string]string{},
		value:  typ.Zero(),
	}
	for k, v := range attrs {
		item.attrs[k] = v
	}
	if v, ok := item.attrs["initial_value"]; ok && typ != TypeNone {
		value, err := typ.Parse(v)
		if err != nil {
			return nil, errors.Config("items.Add", errors.Wrapf(err, "%s initial_value", path))
		}
		item.value = value
	}
	if parent != nil {
		parent.children = append(parent.children, item)
	}
	r.items[path] = item
	r.order = append(r.order, item)
	return item, nil
}

// Freeze prevents further structural changes.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the item at path, or nil.
func (r *Registry) Get(path string) *Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[path]
}

// All items in registration order.
func (r *Registry) All() []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Item(nil), r.order...)
}

// Children of the item at path, or the top level items for "".
func (r *Registry) Children(path string) []*Item {
	if path == "" {
		var ret []*Item
		for _, item := range r.All() {
			if item.parent == nil {
				ret = append(ret, item)
			}
		}
		return ret
	}
	if item := r.Get(path); item != nil {
		return item.Children()
	}
	return nil
}

// FindByAttribute returns the items declaring the attribute, in registration order.
func (r *Registry) FindByAttribute(name string) []*Item {
	var ret []*Item
	for _, item := range r.All() {
		if _, ok := item.attrs[name]; ok {
			ret = append(ret, item)
		}
	}
	return ret
}

// Paths of all items, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return util.SortedKeys(r.items)
}

// Set updates the value of an item. The value must match the item type (Go
// numbers widen to float64). Subscribers are called before Set returns and
// must not set the same item again.
func (r *Registry) Set(path string, value interface{}, caller Caller, source, dest string) error {
	item := r.Get(path)
	if item == nil {
		return errors.Wrap(ErrUnknownItem, path)
	}
	value, err := item.typ.Coerce(value)
	if err != nil {
		return errors.Wrap(err, path)
	}

	r.mu.RLock()
	now := r.now()
	r.mu.RUnlock()

	item.setMu.Lock()
	defer item.setMu.Unlock()

	item.mu.Lock()
	old := item.value
	changed := !Equal(old, value)
	item.value = value
	item.version++
	item.lastUpdate = now
	if changed {
		item.lastChange = now
	}
	subs := append([]subscriber(nil), item.subs...)
	item.mu.Unlock()

	change := Change{
		Item:    item,
		Old:     old,
		New:     value,
		Changed: changed,
		Caller:  caller,
		Source:  source,
		Dest:    dest,
		Time:    now,
	}
	for _, sub := range subs {
		sub.fn(change)
	}
	return nil
}

// Subscribe registers fn to be called after every set of the item.
func (r *Registry) Subscribe(path string, fn func(Change)) (Subscription, error) {
	item := r.Get(path)
	if item == nil {
		return 0, errors.Wrap(ErrUnknownItem, path)
	}
	id := Subscription(atomic.AddUint64(&r.nextSub, 1))
	item.mu.Lock()
	item.subs = append(item.subs, subscriber{id: id, fn: fn})
	item.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription. It reports whether it was found.
func (r *Registry) Unsubscribe(path string, id Subscription) bool {
	item := r.Get(path)
	if item == nil {
		return false
	}
	item.mu.Lock()
	defer item.mu.Unlock()
	for n, sub := range item.subs {
		if sub.id == id {
			item.subs = append(item.subs[:n:n], item.subs[n+1:]...)
			return true
		}
	}
	return false
}

// States of all items with a value, sorted by path.
func (r *Registry) States() []State {
	var ret []State
	for _, item := range r.All() {
		if item.typ != TypeNone {
			ret = append(ret, item.State())
		}
	}
	sort.Slice(ret, func(a, b int) bool { return ret[a].Path < ret[b].Path })
	return ret
}
