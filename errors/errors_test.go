package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		err   error
		class Class
	}{
		{Config("modbus.Configure", New("host missing")), ClassConfig},
		{Transient("modbus.Poll", context.DeadlineExceeded), ClassTransient},
		{Permanent("opcua.Connect", New("auth rejected")), ClassPermanent},
		{Binding("binder", New("bad address")), ClassBinding},
		{Type("items.Set", New("want num")), ClassType},
		{New("unclassified"), ClassTransient},
	}
	for _, c := range cases {
		assert.Equal(t, c.class, ClassOf(c.err), c.err.Error())
	}
}

func TestWrapKeepsClass(t *testing.T) {
	err := Permanentf("ups.Poll", "unsupported device %s", "x")
	wrapped := Wrap(err, "poll inverter")
	assert.True(t, IsPermanent(wrapped))
	assert.False(t, IsTransient(wrapped))

	var e *Error
	assert.True(t, As(wrapped, &e))
	assert.Equal(t, "ups.Poll", e.Op)
}

func TestUnwrap(t *testing.T) {
	err := Transient("http.Poll", context.Canceled)
	assert.True(t, Is(err, context.Canceled))
	assert.False(t, IsTransient(nil))
	assert.Nil(t, Transient("noop", nil))
}

func ExampleError() {
	err := Configf("mqtt.Configure", "param %q is required", "broker")
	fmt.Println(err)
	// Output:
	// mqtt.Configure: config error: param "broker" is required
}
