package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	shngerrors "github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

type token struct {
	err error
}

func (t *token) Wait() bool {
	return true
}

func (t *token) WaitTimeout(time.Duration) bool {
	return true
}

func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *token) Error() error {
	return t.err
}

type published struct {
	topic   string
	payload string
	retain  bool
}

type fakeClient struct {
	MQTT.Client
	opts       *MQTT.ClientOptions
	connectErr error
	open       bool
	filters    map[string]byte
	handler    MQTT.MessageHandler
	published  []published
}

func (f *fakeClient) Connect() MQTT.Token {
	if f.connectErr == nil {
		f.open = true
		f.opts.OnConnect(f)
	}
	return &token{f.connectErr}
}

func (f *fakeClient) IsConnectionOpen() bool { return f.open }

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback MQTT.MessageHandler) MQTT.Token {
	f.filters, f.handler = filters, callback
	return &token{}
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	f.published = append(f.published, published{topic, payload.(string), retained})
	return &token{}
}

func (f *fakeClient) Disconnect(quiesce uint) { f.open = false }

type message struct {
	MQTT.Message
	topic   string
	payload []byte
}

func (m message) Topic() string   { return m.topic }
func (m message) Payload() []byte { return m.payload }

func setup(t *testing.T, fake *fakeClient) *Adapter {
	a := &Adapter{newClient: func(opts *MQTT.ClientOptions) MQTT.Client {
		fake.opts = opts
		return fake
	}}
	require.NoError(t, a.Configure(config.Params{"broker": "tcp://broker:1883", "retain": "yes"}))
	reg := items.NewRegistry()
	bind := func(path string, typ items.Type, topic, pointer string, dir binder.Direction) {
		item, _ := reg.Add(path, typ, nil)
		b := &binder.Binding{Item: item, Address: topic, Direction: dir}
		if pointer != "" {
			b.Params = map[string]string{"pointer": pointer}
		}
		require.NoError(t, a.Bind(b))
	}
	bind("hall.temp", items.TypeNum, "sensors/hall", "/temperature", binder.Read)
	bind("hall.light", items.TypeBool, "lights/hall", "", binder.ReadWrite)
	bind("hall.notice", items.TypeStr, "display/hall", "", binder.Write)
	return a
}

func TestReceive(t *testing.T) {
	fake := &fakeClient{}
	a := setup(t, fake)
	var pushed []adapters.Reading
	a.SetPush(func(r []adapters.Reading) { pushed = append(pushed, r...) })

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, map[string]byte{"sensors/hall": 1, "lights/hall": 1}, fake.filters)

	fake.handler(fake, message{topic: "sensors/hall", payload: []byte(`{"temperature": 21.5, "humidity": 40}`)})
	fake.handler(fake, message{topic: "sensors/hall", payload: []byte(`not json`)})
	fake.handler(fake, message{topic: "lights/hall", payload: []byte("ON\n")})
	fake.handler(fake, message{topic: "lights/kitchen", payload: []byte("OFF")})

	assert.Equal(t, []adapters.Reading{
		{Address: "sensors/hall", Value: 21.5},
		{Address: "lights/hall", Value: "ON"},
	}, pushed)

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pushed, readings)

	fake.open = false
	_, err = a.Poll(context.Background())
	assert.True(t, shngerrors.IsTransient(err))
}

func TestWrite(t *testing.T) {
	fake := &fakeClient{}
	a := setup(t, fake)
	assert.True(t, shngerrors.IsTransient(a.Write(context.Background(), "display/hall", "hi")))

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Write(context.Background(), "display/hall", "hi"))
	require.NoError(t, a.Write(context.Background(), "lights/hall", true))
	assert.Equal(t, []published{
		{"display/hall", "hi", true},
		{"lights/hall", "true", true},
	}, fake.published)

	require.NoError(t, a.Disconnect())
	require.NoError(t, a.Disconnect())
}

func TestConnectErrors(t *testing.T) {
	a := setup(t, &fakeClient{connectErr: errors.New("network Error : dial tcp: connection refused")})
	assert.True(t, shngerrors.IsTransient(a.Connect(context.Background())))

	a = setup(t, &fakeClient{connectErr: errors.New("not Authorized")})
	assert.True(t, shngerrors.IsPermanent(a.Connect(context.Background())))
}

func TestBind(t *testing.T) {
	a := &Adapter{}
	require.NoError(t, a.Configure(config.Params{"broker": "tcp://broker:1883"}))
	reg := items.NewRegistry()
	item, _ := reg.Add("x", items.TypeNum, nil)

	assert.True(t, shngerrors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "sensors/#"})))
	assert.True(t, shngerrors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "a", Params: map[string]string{"pointer": "temp"}})))
	require.NoError(t, a.Bind(&binder.Binding{Item: item, Address: "a", Params: map[string]string{"pointer": "/temp"}}))
	assert.True(t, shngerrors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "a", Params: map[string]string{"pointer": "/hum"}})))
}

func TestConfigure(t *testing.T) {
	a := &Adapter{}
	assert.True(t, shngerrors.IsConfig(a.Configure(config.Params{})))
	assert.True(t, shngerrors.IsConfig(a.Configure(config.Params{"broker": "tcp://b:1883", "qos": "3"})))
}
