package pubsub

import (
	"sync"
	"sync/atomic"
)

type eventChannel struct {
	topics []Topic
	C      chan *Event
}

func (ch eventChannel) match(topic string) bool {
	for _, t := range ch.topics {
		if t.Match(topic) {
			return true
		}
	}
	return false
}

// Channels fans events out to subscribed channels filtered client-side. A
// channel whose buffer is full misses the event.
type Channels struct {
	channels     []eventChannel
	channelsLock sync.Mutex
	dropped      int64
}

func (self *Channels) Add(topics []Topic) <-chan *Event {
	ch := eventChannel{
		C:      make(chan *Event, 64),
		topics: topics,
	}
	self.channelsLock.Lock()
	self.channels = append(self.channels, ch)
	self.channelsLock.Unlock()
	return ch.C
}

func (self *Channels) Dispatch(event *Event) {
	self.channelsLock.Lock()
	defer self.channelsLock.Unlock()
	for _, ch := range self.channels {
		if !ch.match(event.Topic) {
			continue
		}
		select {
		case ch.C <- event:
		default:
			atomic.AddInt64(&self.dropped, 1)
		}
	}
}

// Remove and close a channel, returning its topics.
func (self *Channels) Remove(channel <-chan *Event) []Topic {
	self.channelsLock.Lock()
	defer self.channelsLock.Unlock()
	var channels []eventChannel
	var topics []Topic
	for _, ch := range self.channels {
		if channel == (<-chan *Event)(ch.C) {
			topics = ch.topics
			close(ch.C)
		} else {
			channels = append(channels, ch)
		}
	}
	self.channels = channels
	return topics
}

func (self *Channels) Dropped() int64 {
	return atomic.LoadInt64(&self.dropped)
}

// Bus is an in-process Publisher and Subscriber, used when no broker is
// configured.
type Bus struct {
	Channels
	retained sync.Map
}

func NewBus() *Bus {
	return &Bus{}
}

func (self *Bus) ID() string {
	return "local"
}

func (self *Bus) Emit(ev *Event) {
	if ev.Retained {
		self.retained.Store(ev.Topic, ev)
	}
	self.Dispatch(ev)
}

// Subscribe also delivers the retained events matching topics.
func (self *Bus) Subscribe(topics ...Topic) <-chan *Event {
	ch := self.Add(topics)
	match := eventChannel{topics: topics}
	self.retained.Range(func(key, value interface{}) bool {
		if match.match(key.(string)) {
			self.deliver(ch, value.(*Event))
		}
		return true
	})
	return ch
}

func (self *Bus) deliver(ch <-chan *Event, ev *Event) {
	self.channelsLock.Lock()
	defer self.channelsLock.Unlock()
	for _, c := range self.channels {
		if (<-chan *Event)(c.C) == ch {
			select {
			case c.C <- ev:
			default:
				atomic.AddInt64(&self.dropped, 1)
			}
		}
	}
}

func (self *Bus) Close(ch <-chan *Event) {
	self.Remove(ch)
}

