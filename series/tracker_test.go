package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v2"

	"github.com/shng-go/shng/items"
)

var trackerItems = `
living:
  temp:
    type: num
    series: yes
  mode:
    type: str
    initial_value: eco
    series: yes
  tags:
    type: list
    series: yes
  humidity:
    type: num
    series: no
`

func TestTracker(t *testing.T) {
	var tree yaml.MapSlice
	require.NoError(t, yaml.Unmarshal([]byte(trackerItems), &tree))
	reg := items.NewRegistry()
	now := at(0)
	reg.SetClock(func() time.Time { return now })
	require.NoError(t, reg.Build(tree))
	reg.Freeze()

	store := openStore(t, t.TempDir(), 0)
	core, logs := observer.New(zap.InfoLevel)
	tracker := NewTracker(zap.New(core).Sugar(), store, reg)
	require.NoError(t, tracker.Start())
	defer tracker.Stop()

	assert.Equal(t, []string{"living.mode", "living.temp"}, tracker.Tracked())
	assert.Equal(t, 1, logs.FilterMessage("Series not supported for item type").Len())

	for n, v := range []float64{1, 1, 2, 2} {
		now = at(float64(n * 10))
		require.NoError(t, reg.Set("living.temp", v, items.User("test"), "", ""))
	}
	require.NoError(t, reg.Set("living.humidity", 50.0, items.User("test"), "", ""))

	// initial 0 at t=0 is replaced by the first set at the same time
	records := store.Records("living.temp")
	require.Len(t, records, 2)
	assert.Equal(t, 1.0, records[0].Value())
	assert.Equal(t, int64(20000), records[0].Duration)
	assert.Equal(t, int64(30000), records[1].Changed)

	assert.Equal(t, "eco", store.Records("living.mode")[0].Value())
	assert.Empty(t, store.Records("living.humidity"))

	tracker.Stop()
	now = at(50)
	require.NoError(t, reg.Set("living.temp", 7.0, items.User("test"), "", ""))
	assert.Len(t, store.Records("living.temp"), 2)
}
