package mqtt

import (
	"strings"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/shng-go/shng/pubsub"
)

// Subscriber struct
type Subscriber struct {
	pubsub.Channels
	broker         *Broker
	topicCount     map[string]int
	topicCountLock sync.RWMutex
}

func (self *Subscriber) ID() string {
	return self.broker.ID()
}

func (self *Subscriber) publishHandler(client MQTT.Client, msg MQTT.Message) {
	topic := strings.TrimPrefix(msg.Topic(), Prefix)
	event := pubsub.Parse(string(msg.Payload()), topic)
	if event == nil {
		return
	}
	event.Retained = msg.Retained()
	self.Dispatch(event)
}

func (self *Subscriber) connectHandler(client MQTT.Client) {
	// (re)subscribe when (re)connected
	subs := map[string]byte{}
	self.topicCountLock.RLock()
	for topic := range self.topicCount {
		subs[topic] = 1 // QOS
	}
	self.topicCountLock.RUnlock()
	self.subscribe(client, subs)
}

func (self *Subscriber) subscribe(client MQTT.Client, subs map[string]byte) {
	if len(subs) == 0 {
		return
	}
	// nil = all messages go to the default handler
	if token := client.SubscribeMultiple(subs, nil); token.WaitTimeout(timeout) && token.Error() != nil {
		self.broker.log.Warnw("Bus subscribe failed", "error", token.Error())
	}
}

func topicToMqtt(topic pubsub.Topic) string {
	switch topic := topic.(type) {
	case *pubsub.AllTopic:
		return Prefix + "#"
	case *pubsub.ExactTopic:
		return Prefix + topic.Exact
	case *pubsub.PrefixTopic:
		return Prefix + topic.Prefix + "/#"
	case *pubsub.PatternTopic:
		return Prefix + topic.Pattern
	}
	// other matchers filter client side
	return Prefix + "#"
}

func (self *Subscriber) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	// subscribe topics not yet subscribed to
	subs := map[string]byte{}
	self.topicCountLock.Lock()
	for _, topic := range topics {
		t := topicToMqtt(topic)
		if _, exists := self.topicCount[t]; !exists {
			subs[t] = 1
		}
		self.topicCount[t] += 1
	}
	self.topicCountLock.Unlock()

	ch := self.Add(topics)
	self.subscribe(self.broker.client, subs)
	return ch
}

func (self *Subscriber) Close(channel <-chan *pubsub.Event) {
	for _, topic := range self.Remove(channel) {
		t := topicToMqtt(topic)
		self.topicCountLock.Lock()
		self.topicCount[t] -= 1
		current := self.topicCount[t]
		if current == 0 {
			delete(self.topicCount, t)
		}
		self.topicCountLock.Unlock()
		if current == 0 {
			if token := self.broker.client.Unsubscribe(t); token.WaitTimeout(timeout) && token.Error() != nil {
				self.broker.log.Warnw("Bus unsubscribe failed", "topic", t, "error", token.Error())
			}
		}
	}
}
