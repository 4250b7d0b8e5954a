// Package dummy has a recording Publisher and a replaying Subscriber for tests.
package dummy

import (
	"sync"

	"github.com/shng-go/shng/pubsub"
)

// Dummy Publisher for testing
type Publisher struct {
	mu     sync.Mutex
	Events []*pubsub.Event
}

func (self *Publisher) ID() string {
	return "dummy"
}

func (self *Publisher) Emit(ev *pubsub.Event) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Events = append(self.Events, ev)
}

// Emitted returns a copy of the events seen so far.
func (self *Publisher) Emitted() []*pubsub.Event {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]*pubsub.Event(nil), self.Events...)
}
