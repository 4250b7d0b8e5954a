package dummy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/items"
)

func TestPollAndEcho(t *testing.T) {
	a, err := adapters.New("dummy")
	require.NoError(t, err)
	d := a.(*Adapter)
	require.NoError(t, d.Configure(config.Params{"echo": true}))

	reg := items.NewRegistry()
	x, _ := reg.Add("x", items.TypeNum, nil)
	y, _ := reg.Add("y", items.TypeBool, nil)
	require.NoError(t, d.Bind(&binder.Binding{Item: x, Address: "X", Direction: binder.Read}))
	require.NoError(t, d.Bind(&binder.Binding{Item: y, Address: "Y", Direction: binder.ReadWrite}))

	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))
	require.NoError(t, d.Connect(ctx))
	assert.True(t, d.Connected())

	readings, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, readings)

	d.Set("X", 42.0)
	require.NoError(t, d.Write(ctx, "Y", true))
	readings, err = d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []adapters.Reading{{Address: "X", Value: 42.0}, {Address: "Y", Value: true}}, readings)
	assert.Equal(t, []Write{{"Y", true}}, d.Writes())
	assert.Equal(t, 2, d.Polls())

	require.NoError(t, d.Disconnect())
	require.NoError(t, d.Disconnect())
	assert.False(t, d.Connected())
}
