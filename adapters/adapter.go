// Package adapters defines the capability contract every adapter implements
// and the registry of adapter factories keyed by type name.
package adapters

import (
	"context"
	"sync"

	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

// Reading is one value read from an address.
type Reading struct {
	Address string
	Value   interface{}
}

// Adapter talks to one external device, service or protocol.
//
// Configure fails with a config error. Bind rejects an address with a binding
// error. Connect and Disconnect are idempotent. Poll returns the values of the
// bound read addresses in a stable order; missing addresses keep their item
// values. Poll and Write report transient or permanent errors; unclassified
// errors are treated as transient. An adapter must tolerate Poll and Write
// being called concurrently.
type Adapter interface {
	binder.Target
	Configure(params config.Params) error
	Connect(ctx context.Context) error
	Disconnect() error
	Poll(ctx context.Context) ([]Reading, error)
	Write(ctx context.Context, address string, value interface{}) error
	DescribeBindings() []string
}

// Pusher is implemented by adapters that receive values outside of Poll, such
// as MQTT subscriptions. The engine applies pushed readings under the adapter
// instance lock.
type Pusher interface {
	SetPush(push func([]Reading))
}

type Factory func() Adapter

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register an adapter factory under a type name. Registering a name twice panics.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, exists := factories[name]; exists {
		panic("adapters: duplicate adapter registered: " + name)
	}
	factories[name] = factory
}

// New creates an adapter of the named type.
func New(name string) (Adapter, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.Configf("adapters.New", "unknown adapter type %q", name)
	}
	return factory(), nil
}

// Types lists the registered adapter types.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return util.SortedKeys(factories)
}
