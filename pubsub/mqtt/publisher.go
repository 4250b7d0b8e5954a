package mqtt

import (
	"github.com/shng-go/shng/pubsub"
)

// Publisher for mqtt
type Publisher struct {
	broker *Broker
}

func (pub *Publisher) ID() string {
	return pub.broker.ID()
}

// Emit an event below Prefix. Failures are logged.
func (pub *Publisher) Emit(ev *pubsub.Event) {
	token := pub.broker.client.Publish(Prefix+ev.Topic, 1, ev.Retained, ev.Bytes())
	if !token.WaitTimeout(timeout) {
		pub.broker.log.Warnw("Bus publish timed out", "topic", ev.Topic)
		return
	}
	if err := token.Error(); err != nil {
		pub.broker.log.Warnw("Bus publish failed", "topic", ev.Topic, "error", err)
	}
}
