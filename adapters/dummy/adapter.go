// Package dummy is an in-memory adapter for tests and dry runs.
package dummy

import (
	"context"
	"sync"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
)

func init() {
	adapters.Register("dummy", func() adapters.Adapter { return New() })
}

type Write struct {
	Address string
	Value   interface{}
}

// Adapter keeps a value per address. Poll returns the values of the bound read
// addresses that have one. With echo set, a write also updates the value the
// next poll returns, like a device reporting its new state.
type Adapter struct {
	adapters.Bindings

	// PollFunc replaces the default poll when set.
	PollFunc func(ctx context.Context) ([]adapters.Reading, error)
	// WriteErr is returned by Write when set.
	WriteErr error

	mu          sync.Mutex
	prefix      string
	echo        bool
	values      map[string]interface{}
	writes      []Write
	connected   bool
	connects    int
	disconnects int
	polls       int
	push        func([]adapters.Reading)
}

func New() *Adapter {
	return &Adapter{prefix: "dummy", values: map[string]interface{}{}}
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: self.prefix, DefaultDirection: binder.ReadWrite}
}

func (self *Adapter) Configure(params config.Params) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.prefix = params.String("prefix", "dummy")
	self.echo = params.Bool("echo", false)
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.connected {
		self.connected = true
		self.connects++
	}
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.connected {
		self.connected = false
		self.disconnects++
	}
	return nil
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	self.polls++
	fn := self.PollFunc
	self.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		if v, ok := self.values[addr]; ok {
			ret = append(ret, adapters.Reading{Address: addr, Value: v})
		}
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.writes = append(self.writes, Write{address, value})
	if self.WriteErr != nil {
		return self.WriteErr
	}
	if self.echo {
		self.values[address] = value
	}
	return nil
}

func (self *Adapter) SetPush(push func([]adapters.Reading)) {
	self.mu.Lock()
	self.push = push
	self.mu.Unlock()
}

// Set the value returned for an address by the next poll.
func (self *Adapter) Set(address string, value interface{}) {
	self.mu.Lock()
	self.values[address] = value
	self.mu.Unlock()
}

// Push readings as if they arrived from the device.
func (self *Adapter) Push(readings ...adapters.Reading) {
	self.mu.Lock()
	push := self.push
	self.mu.Unlock()
	if push != nil {
		push(readings)
	}
}

func (self *Adapter) Writes() []Write {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]Write(nil), self.writes...)
}

func (self *Adapter) Polls() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.polls
}

func (self *Adapter) Connected() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.connected
}
