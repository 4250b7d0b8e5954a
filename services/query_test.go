package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/pubsub"
	"github.com/shng-go/shng/pubsub/dummy"
)

type MockService struct {
	id            string
	queryHandlers map[string]QueryHandler
	ran           chan struct{}
}

func (service *MockService) ID() string {
	if service.id == "" {
		return "abc"
	}
	return service.id
}

func (service *MockService) Run(ctx context.Context) error {
	if service.ran != nil {
		close(service.ran)
	}
	<-ctx.Done()
	return nil
}

func (service *MockService) QueryHandlers() QueryHandlers {
	return service.queryHandlers
}

func ExampleQuerySubscriber() {
	query := pubsub.NewQuery("help", "test")
	Subscriber = &dummy.Subscriber{Events: []*pubsub.Event{query}}
	em := dummy.Publisher{}
	Publisher = &em
	mock := MockService{
		queryHandlers: map[string]QueryHandler{"help": StaticHandler("squiggle")},
	}
	enabled = []Service{&mock}
	QuerySubscriber(context.Background())
	fmt.Println(len(em.Events))
	fmt.Println(em.Events[0].Topic, em.Events[0].StringField("target"), em.Events[0].StringField("message"))
	// Output:
	// 1
	// reply test squiggle
}

func TestHandleQueryLimit(t *testing.T) {
	em := &dummy.Publisher{}
	Publisher = em
	a := &MockService{id: "a", queryHandlers: QueryHandlers{
		"status": TextHandler(func(q Question) string { return "a:" + q.Args }),
	}}
	b := &MockService{id: "b", queryHandlers: QueryHandlers{
		"status": StaticHandler("b"),
	}}

	handleQuery(pubsub.NewQuery("STATUS  x y", "cli"), []Queryable{a, b})
	require.Len(t, em.Events, 2)
	assert.Equal(t, "a:x y", em.Events[0].StringField("message"))
	assert.Equal(t, "b", em.Events[1].StringField("message"))

	em.Events = nil
	ev := pubsub.NewQuery("b/status", "cli")
	ev.SetField("reply_to", "_rpc.1")
	handleQuery(ev, []Queryable{a, b})
	require.Len(t, em.Events, 1)
	assert.Equal(t, "_rpc.1", em.Events[0].Topic)
	assert.Equal(t, "b", em.Events[0].StringField("source"))
}

func TestRPC(t *testing.T) {
	bus := pubsub.NewBus()
	Publisher, Subscriber = bus, bus
	defer Reset()
	Register(&MockService{id: "echo", queryHandlers: QueryHandlers{
		"echo": TextHandler(func(q Question) string { return q.Args }),
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- Launch(ctx, []string{"echo"}) }()

	var reply string
	assert.Eventually(t, func() bool {
		var err error
		reply, err = RPC("echo hello", 50*time.Millisecond)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", reply)

	cancel()
	assert.NoError(t, <-done)
}

func TestLaunchUnknown(t *testing.T) {
	defer Reset()
	assert.Error(t, Launch(context.Background(), []string{"missing"}))
}
