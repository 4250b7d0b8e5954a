package lirc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chbmuc/lirc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	shngerrors "github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

type fakeRouter struct {
	mu       sync.Mutex
	sent     []string
	handlers map[string]lirc.Handle
	events   chan lirc.Event
	block    chan struct{}
}

func (r *fakeRouter) Send(command string) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if command == "tv BOGUS" {
		return errors.New("unknown command or remote")
	}
	r.sent = append(r.sent, command)
	return nil
}

func (r *fakeRouter) Handle(remote, button string, handle lirc.Handle) {
	r.handlers[remote] = handle
}

func (r *fakeRouter) Run() {
	for ev := range r.events {
		if h, ok := r.handlers[ev.Remote]; ok {
			h(ev)
		}
	}
}

func TestRemote(t *testing.T) {
	fake := &fakeRouter{handlers: map[string]lirc.Handle{}, events: make(chan lirc.Event)}
	defer close(fake.events)
	a := &Adapter{dial: func(path string) (router, error) {
		assert.Equal(t, "/var/run/lirc/lircd", path)
		return fake, nil
	}}
	require.NoError(t, a.Configure(config.Params{}))

	reg := items.NewRegistry()
	tv, _ := reg.Add("living.tv", items.TypeStr, nil)
	button, _ := reg.Add("living.remote", items.TypeStr, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: tv, Address: "tv", Direction: binder.Write}))
	require.NoError(t, a.Bind(&binder.Binding{Item: button, Address: "apple", Direction: binder.Read}))
	assert.True(t, shngerrors.IsBinding(a.Bind(&binder.Binding{Item: tv, Address: "tv two"})))

	pushed := make(chan adapters.Reading, 1)
	a.SetPush(func(rs []adapters.Reading) { pushed <- rs[0] })
	require.NoError(t, a.Connect(context.Background()))
	_, err := a.Poll(context.Background())
	assert.NoError(t, err)

	fake.events <- lirc.Event{Remote: "apple", Button: "PLAY", Repeat: 1}
	fake.events <- lirc.Event{Remote: "apple", Button: "MENU"}
	select {
	case r := <-pushed:
		assert.Equal(t, adapters.Reading{Address: "apple", Value: "MENU"}, r)
	case <-time.After(time.Second):
		t.Fatal("no reading pushed")
	}

	require.NoError(t, a.Write(context.Background(), "tv", "KEY_POWER"))
	assert.Equal(t, []string{"tv KEY_POWER"}, fake.sent)
	assert.True(t, shngerrors.IsType(a.Write(context.Background(), "tv", "BOGUS")))
	assert.True(t, shngerrors.IsType(a.Write(context.Background(), "tv", "")))
}

func TestWriteTimeout(t *testing.T) {
	fake := &fakeRouter{handlers: map[string]lirc.Handle{}, events: make(chan lirc.Event), block: make(chan struct{})}
	defer close(fake.block)
	a := &Adapter{dial: func(string) (router, error) { return fake, nil }}
	require.NoError(t, a.Configure(config.Params{"socket": "/tmp/lircd"}))
	require.NoError(t, a.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, shngerrors.IsTransient(a.Write(ctx, "tv", "KEY_POWER")))

	require.NoError(t, a.Disconnect())
	_, err := a.Poll(context.Background())
	assert.True(t, shngerrors.IsTransient(err))
}
