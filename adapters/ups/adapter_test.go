package ups

import (
	"context"
	"testing"
	"time"

	"github.com/mdlayher/apcupsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

type fakeClient struct {
	status *apcupsd.Status
	err    error
	closed bool
}

func (c *fakeClient) Status() (*apcupsd.Status, error) { return c.status, c.err }

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func TestPoll(t *testing.T) {
	client := &fakeClient{status: &apcupsd.Status{
		Status:               "ONLINE",
		LineVoltage:          238.5,
		BatteryChargePercent: 100,
		TimeOnBattery:        90 * time.Second,
		NumberTransfers:      3,
	}}
	var dialled string
	a := &Adapter{dial: func(ctx context.Context, addr string) (statusClient, error) {
		dialled = addr
		return client, nil
	}}
	require.NoError(t, a.Configure(config.Params{}))

	reg := items.NewRegistry()
	for _, f := range []string{"status", "linev", "bcharge", "tonbatt", "numxfers"} {
		item, _ := reg.Add("ups."+f, items.TypeNum, nil)
		require.NoError(t, a.Bind(&binder.Binding{Item: item, AdapterID: "ups", Address: f, Direction: binder.Read}))
	}
	item, _ := reg.Add("ups.bogus", items.TypeNum, nil)
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "bogus", Direction: binder.Read})))
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "linev", Direction: binder.Write})))

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, "127.0.0.1:3551", dialled)
	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []adapters.Reading{
		{Address: "status", Value: "ONLINE"},
		{Address: "linev", Value: 238.5},
		{Address: "bcharge", Value: 100.0},
		{Address: "tonbatt", Value: 90.0},
		{Address: "numxfers", Value: 3.0},
	}, readings)

	client.err = errors.New("EOF")
	_, err = a.Poll(context.Background())
	assert.True(t, errors.IsTransient(err))
	assert.True(t, client.closed)
	_, err = a.Poll(context.Background())
	assert.True(t, errors.IsTransient(err), "disconnected after failure")
}
