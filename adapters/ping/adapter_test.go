package ping

import (
	"context"
	"fmt"
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

func TestPoll(t *testing.T) {
	var pinged []string
	a := &Adapter{
		resolve: func(host string) (*net.IPAddr, error) {
			if host == "nas.lan" {
				return nil, fmt.Errorf("no such host")
			}
			return &net.IPAddr{IP: net.ParseIP(host)}, nil
		},
		ping: func(ctx context.Context, addrs []*net.IPAddr) (map[string]time.Duration, error) {
			for _, a := range addrs {
				pinged = append(pinged, a.String())
			}
			return map[string]time.Duration{"10.0.0.2": 1500 * time.Microsecond}, nil
		},
	}
	require.NoError(t, a.Configure(config.Params{}))

	reg := items.NewRegistry()
	bind := func(path, host, dataType string) {
		item, _ := reg.Add(path, items.TypeNum, nil)
		require.NoError(t, a.Bind(&binder.Binding{Item: item, Address: host, DataType: dataType, Direction: binder.Read}))
	}
	bind("phone", "10.0.0.2", "")
	bind("phone_rtt", "10.0.0.2", "rtt")
	bind("laptop", "10.0.0.3", "")
	bind("nas", "nas.lan", "")

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, pinged)
	// the first binding of an address decides its form
	assert.Equal(t, []adapters.Reading{
		{Address: "10.0.0.2", Value: true},
		{Address: "10.0.0.3", Value: false},
		{Address: "nas.lan", Value: false},
	}, readings)
}

func TestRTT(t *testing.T) {
	a := &Adapter{
		resolve: func(host string) (*net.IPAddr, error) { return &net.IPAddr{IP: net.ParseIP(host)}, nil },
		ping: func(ctx context.Context, addrs []*net.IPAddr) (map[string]time.Duration, error) {
			return map[string]time.Duration{"10.0.0.2": 1500 * time.Microsecond}, nil
		},
	}
	require.NoError(t, a.Configure(config.Params{"timeout": "500ms"}))
	reg := items.NewRegistry()
	item, _ := reg.Add("rtt", items.TypeNum, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: item, Address: "10.0.0.2", DataType: "rtt", Direction: binder.Read}))
	item, _ = reg.Add("down_rtt", items.TypeNum, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: item, Address: "10.0.0.9", DataType: "rtt", Direction: binder.Read}))

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []adapters.Reading{{Address: "10.0.0.2", Value: 1.5}}, readings)
	assert.Equal(t, 500*time.Millisecond, a.timeout)
}

func TestConfigureAndBind(t *testing.T) {
	a := &Adapter{}
	assert.True(t, errors.IsConfig(a.Configure(config.Params{"network": "tcp"})))
	require.NoError(t, a.Configure(config.Params{"network": "ip"}))

	reg := items.NewRegistry()
	item, _ := reg.Add("x", items.TypeBool, nil)
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "h", Direction: binder.Write})))
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "h", DataType: "jitter", Direction: binder.Read})))
}
