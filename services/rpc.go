package services

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/pubsub"
)

// Query with `query`, waiting for `timeout` for results.
func Query(query string, timeout time.Duration) []*pubsub.Event {
	ch := QueryChannel(query, timeout)
	events := []*pubsub.Event{}
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

// QueryChannel sends query and returns the replies arriving within timeout.
// The channel is closed after timeout.
func QueryChannel(query string, timeout time.Duration) <-chan *pubsub.Event {
	replyTo := fmt.Sprintf("_rpc.%d", rand.Int())
	ch := Subscriber.Subscribe(pubsub.Exact(replyTo))

	SendQuery(query, "rpc", replyTo)

	// close the listener after timeout
	go func() {
		time.Sleep(timeout)
		Subscriber.Close(ch)
	}()

	return ch
}

func SendQuery(query, source, replyTo string) {
	ev := pubsub.NewQuery(query, source)
	if replyTo != "" {
		ev.SetField("reply_to", replyTo)
	}
	Publisher.Emit(ev)
}

// RPC returns the text of the first reply to query.
func RPC(query string, timeout time.Duration) (string, error) {
	ch := QueryChannel(query, timeout)
	for ev := range ch {
		return ev.StringField("message"), nil
	}
	return "", errors.Transientf("services.RPC", "no reply to %q within %s", query, timeout)
}
