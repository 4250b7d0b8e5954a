package serial

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func TestLineProtocol(t *testing.T) {
	host, device := net.Pipe()
	a := &Adapter{open: func(name string, baud int) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyUSB0", name)
		assert.Equal(t, 115200, baud)
		return host, nil
	}}
	require.NoError(t, a.Configure(config.Params{"device": "/dev/ttyUSB0", "baud": 115200}))

	reg := items.NewRegistry()
	temp, _ := reg.Add("cellar.temp", items.TypeNum, nil)
	pump, _ := reg.Add("cellar.pump", items.TypeBool, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: temp, Address: "t1", Direction: binder.Read}))
	require.NoError(t, a.Bind(&binder.Binding{Item: pump, Address: "pump", Direction: binder.ReadWrite}))
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: pump, Address: "a=b"})))

	pushed := make(chan adapters.Reading, 4)
	a.SetPush(func(rs []adapters.Reading) {
		for _, r := range rs {
			pushed <- r
		}
	})
	require.NoError(t, a.Connect(context.Background()))

	_, err := io.WriteString(device, "t1=12.5\nnoise\nunbound=1\npump=1\n")
	require.NoError(t, err)
	assert.Equal(t, adapters.Reading{Address: "t1", Value: "12.5"}, <-pushed)
	assert.Equal(t, adapters.Reading{Address: "pump", Value: "1"}, <-pushed)

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []adapters.Reading{{Address: "t1", Value: "12.5"}, {Address: "pump", Value: "1"}}, readings)

	lines := bufio.NewScanner(device)
	done := make(chan string)
	go func() {
		lines.Scan()
		done <- lines.Text()
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, "pump", 0.0))
	assert.Equal(t, "pump=0", <-done)

	device.Close()
	assert.Eventually(t, func() bool {
		_, err := a.Poll(context.Background())
		return errors.IsTransient(err)
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, a.Disconnect())
	assert.NoError(t, a.Disconnect())
}

func TestConfigure(t *testing.T) {
	a := &Adapter{}
	assert.True(t, errors.IsConfig(a.Configure(config.Params{})))
}
