package adapters

import (
	"sync"

	"github.com/shng-go/shng/binder"
)

// Bindings keeps the bindings an adapter accepted, indexed by address.
// Adapters embed it to implement DescribeBindings.
type Bindings struct {
	mu     sync.RWMutex
	list   []*binder.Binding
	byAddr map[string][]*binder.Binding
	order  []string
}

func (self *Bindings) Add(b *binder.Binding) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.byAddr == nil {
		self.byAddr = map[string][]*binder.Binding{}
	}
	if _, seen := self.byAddr[b.Address]; !seen {
		self.order = append(self.order, b.Address)
	}
	self.list = append(self.list, b)
	self.byAddr[b.Address] = append(self.byAddr[b.Address], b)
}

// Addresses in the order they were first bound.
func (self *Bindings) Addresses() []string {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return append([]string(nil), self.order...)
}

// ReadAddresses are the addresses with at least one read binding.
func (self *Bindings) ReadAddresses() []string {
	self.mu.RLock()
	defer self.mu.RUnlock()
	var ret []string
	for _, addr := range self.order {
		for _, b := range self.byAddr[addr] {
			if b.Direction.CanRead() {
				ret = append(ret, addr)
				break
			}
		}
	}
	return ret
}

// Lookup returns the bindings of an address.
func (self *Bindings) Lookup(address string) []*binder.Binding {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.byAddr[address]
}

// First binding of an address, or nil.
func (self *Bindings) First(address string) *binder.Binding {
	if bs := self.Lookup(address); len(bs) > 0 {
		return bs[0]
	}
	return nil
}

func (self *Bindings) All() []*binder.Binding {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return append([]*binder.Binding(nil), self.list...)
}

func (self *Bindings) DescribeBindings() []string {
	self.mu.RLock()
	defer self.mu.RUnlock()
	ret := make([]string, len(self.list))
	for i, b := range self.list {
		ret[i] = b.String()
	}
	return ret
}
