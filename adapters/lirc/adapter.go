// Package lirc sends and receives infrared remote control codes through the
// lirc daemon.
//
// An address is a remote name from the lircd configuration. Writing an item
// sends its value as the button code of that remote; a key press received
// from the remote sets the items read-bound to it to the button name.
package lirc

import (
	"context"
	"strings"
	"sync"

	"github.com/chbmuc/lirc"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("lirc", func() adapters.Adapter { return &Adapter{} })
}

type router interface {
	Send(command string) error
	Handle(remote string, button string, handle lirc.Handle)
	Run()
}

type Adapter struct {
	adapters.Bindings

	socket string
	dial   func(path string) (router, error)

	mu     sync.Mutex
	router router
	push   func([]adapters.Reading)
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "lirc", DefaultDirection: binder.Write}
}

func (self *Adapter) Configure(params config.Params) error {
	self.socket = params.String("socket", "/var/run/lirc/lircd")
	if self.dial == nil {
		self.dial = func(path string) (router, error) {
			return lirc.Init(path)
		}
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Address == "" || strings.ContainsAny(b.Address, " \t") {
		return errors.Bindingf("lirc.Bind", "invalid remote %q", b.Address)
	}
	self.Add(b)
	return nil
}

func (self *Adapter) SetPush(push func([]adapters.Reading)) {
	self.mu.Lock()
	self.push = push
	self.mu.Unlock()
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.router != nil {
		return nil
	}
	r, err := self.dial(self.socket)
	if err != nil {
		return errors.Transient("lirc.Connect", err)
	}
	for _, remote := range self.ReadAddresses() {
		remote := remote
		r.Handle(remote, "", func(ev lirc.Event) {
			if ev.Repeat > 0 {
				return
			}
			self.mu.Lock()
			push := self.push
			self.mu.Unlock()
			if push != nil {
				push([]adapters.Reading{{Address: remote, Value: ev.Button}})
			}
		})
	}
	go r.Run()
	self.router = r
	return nil
}

// Disconnect forgets the router. lirc.Router.Close dereferences a connection
// it never stores, so the socket is left to the router's reader.
func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	self.router = nil
	self.mu.Unlock()
	return nil
}

// Poll only reports whether the daemon socket is open; key presses are pushed.
func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.router == nil {
		return nil, errors.Transientf("lirc.Poll", "not connected")
	}
	return nil, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	r := self.router
	self.mu.Unlock()
	if r == nil {
		return errors.Transientf("lirc.Write", "not connected")
	}
	code := items.Format(value)
	if code == "" {
		return errors.Typef("lirc.Write", "empty button code for %s", address)
	}
	// lircd never answering blocks Send forever
	done := make(chan error, 1)
	go func() { done <- r.Send(address + " " + code) }()
	select {
	case err := <-done:
		if err != nil {
			// lircd rejects unknown remotes and codes
			return errors.Type("lirc.Write", err)
		}
		return nil
	case <-ctx.Done():
		return errors.Transient("lirc.Write", ctx.Err())
	}
}
