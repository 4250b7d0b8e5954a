package binder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v2"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

type fakeTarget struct {
	schema Schema
	bound  []*Binding
	reject string
}

func (f *fakeTarget) Schema() Schema { return f.schema }

func (f *fakeTarget) Bind(b *Binding) error {
	if b.Address == f.reject {
		return fmt.Errorf("address %s unsupported", b.Address)
	}
	f.bound = append(f.bound, b)
	return nil
}

func registry(t *testing.T, doc string) *items.Registry {
	var tree yaml.MapSlice
	require.NoError(t, yaml.Unmarshal([]byte(doc), &tree))
	reg := items.NewRegistry()
	require.NoError(t, reg.Build(tree))
	reg.Freeze()
	return reg
}

func TestWildcardFromParent(t *testing.T) {
	reg := registry(t, `
dev:
  devid: dev42
  foo:
    type: num
    test_address: "<devid>/foo"
other:
  foo:
    type: num
    test_address: "<devid>/foo"
`)
	core, logs := observer.New(zap.WarnLevel)
	target := &fakeTarget{schema: Schema{Prefix: "test"}}
	result := New(zap.New(core).Sugar(), nil).Bind(reg, []Instance{{ID: "test", Type: "test", Target: target}})

	require.Len(t, result.Bindings["test"], 1)
	b := result.Bindings["test"][0]
	assert.Equal(t, "dev42/foo", b.Address)
	assert.Equal(t, "dev.foo", b.Item.Path())
	assert.Equal(t, Read, b.Direction)

	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "other.foo", result.Dropped[0].Item)
	assert.True(t, errors.IsBinding(result.Dropped[0].Err))
	warnings := logs.FilterMessage("Binding dropped").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "other.foo", warnings[0].ContextMap()["item"])
}

func TestSchemaKeys(t *testing.T) {
	reg := registry(t, `
hall:
  light:
    type: bool
    knx_address: 1/1/1
    knx_direction: rw
    knx_bool: "OFF|ON"
    knx_dpt: "1"
  mode:
    type: str
    knx_address: 1/1/2
    knx_lookup: modes
  power:
    type: num
    knx_address: 1/1/3
    knx_datatype: uint16
    knx_eval: value / 10
    knx_eval_write: value * 10
  other:
    type: num
    unknown_address: x
    knx_colour: red
`)
	lookups := map[string]map[string]string{"modes": {"0": "auto", "1": "manual"}}
	target := &fakeTarget{schema: Schema{Prefix: "knx", Extra: []string{"dpt"}}}
	result := New(nil, lookups).Bind(reg, []Instance{{ID: "knx", Type: "knx", Target: target}})
	require.Empty(t, result.Dropped)
	require.Len(t, target.bound, 3)

	light := target.bound[0]
	assert.Equal(t, ReadWrite, light.Direction)
	assert.Equal(t, []string{"OFF", "ON"}, light.BoolValues)
	assert.Equal(t, "1", light.Param("dpt", ""))
	assert.Same(t, light, result.Writers["hall.light"])

	v, err := light.Decode("ON")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	w, err := light.Encode(false)
	require.NoError(t, err)
	assert.Equal(t, "OFF", w)
	_, err = light.Decode("DIM")
	assert.True(t, errors.IsType(err))

	mode := target.bound[1]
	v, err = mode.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, "manual", v)
	w, err = mode.Encode("auto")
	require.NoError(t, err)
	assert.Equal(t, "0", w)
	_, err = mode.Decode(7)
	assert.True(t, errors.IsType(err))

	power := target.bound[2]
	assert.Equal(t, "uint16", power.DataType)
	v, err = power.Decode(uint16(2315))
	require.NoError(t, err)
	assert.InDelta(t, 231.5, v, 1e-9)
	w, err = power.Encode(231.5)
	require.NoError(t, err)
	assert.InDelta(t, 2315, w, 1e-9)
}

func TestInstanceSelection(t *testing.T) {
	reg := registry(t, `
a:
  type: num
  modbus_address: "holding:1"
b:
  type: num
  modbus_address@inverter2: "holding:2"
  modbus_datatype@inverter2: int32
  modbus_datatype: int16
c:
  type: num
  modbus_address@nope: "holding:3"
`)
	one := &fakeTarget{schema: Schema{Prefix: "modbus"}}
	two := &fakeTarget{schema: Schema{Prefix: "modbus"}}
	result := New(nil, nil).Bind(reg, []Instance{
		{ID: "modbus", Type: "modbus", Target: one},
		{ID: "inverter2", Type: "modbus", Target: two},
	})
	require.Len(t, one.bound, 1)
	assert.Equal(t, "a", one.bound[0].Item.Path())
	require.Len(t, two.bound, 1)
	assert.Equal(t, "holding:2", two.bound[0].Address)
	assert.Equal(t, "int32", two.bound[0].DataType)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "c", result.Dropped[0].Item)
	assert.Equal(t, 2, result.Count())
}

func TestSingleWriter(t *testing.T) {
	reg := registry(t, `
relay:
  type: bool
  mqtt_address: relay/0
  mqtt_direction: rw
  serial_address: R0
  serial_direction: w
`)
	mqtt := &fakeTarget{schema: Schema{Prefix: "mqtt"}}
	serial := &fakeTarget{schema: Schema{Prefix: "serial", DefaultDirection: ReadWrite}}
	result := New(nil, nil).Bind(reg, []Instance{
		{ID: "mqtt", Type: "mqtt", Target: mqtt},
		{ID: "serial", Type: "serial", Target: serial},
	})
	assert.Len(t, mqtt.bound, 1)
	assert.Empty(t, serial.bound)
	require.Len(t, result.Dropped, 1)
	assert.Equal(t, "serial_address", result.Dropped[0].Key)
	assert.Equal(t, "mqtt", result.Writers["relay"].AdapterID)
}

func TestAdapterRejects(t *testing.T) {
	reg := registry(t, `
x:
  type: num
  test_address: bad
y:
  type: num
  test_address: good
  test_lookup: missing
z:
  type: num
  test_address: good
  test_eval: "value +"
`)
	target := &fakeTarget{schema: Schema{Prefix: "test"}, reject: "bad"}
	result := New(nil, nil).Bind(reg, []Instance{{ID: "test", Type: "test", Target: target}})
	assert.Empty(t, target.bound)
	require.Len(t, result.Dropped, 3)
	for _, d := range result.Dropped {
		assert.True(t, errors.IsBinding(d.Err), d.Err.Error())
	}
}

func TestEncodeLookupSeveralWireValues(t *testing.T) {
	reg := registry(t, `
pump:
  type: str
`)
	b := &Binding{
		Item:       reg.Get("pump"),
		LookupName: "modes",
		Lookup:     map[string]string{"3": "off", "0": "off", "2": "auto", "1": "on"},
	}
	for i := 0; i < 20; i++ {
		v, err := b.Encode("off")
		require.NoError(t, err)
		assert.Equal(t, "0", v)
	}
	v, err := b.Decode("3")
	require.NoError(t, err)
	assert.Equal(t, "off", v)
	_, err = b.Encode("boost")
	assert.True(t, errors.IsType(err))
}

func ExampleResolveWildcards() {
	reg := items.NewRegistry()
	reg.Add("house", items.TypeNone, map[string]string{"devid": "dev42"})
	item, _ := reg.Add("house.foo", items.TypeNum, nil)
	fmt.Println(ResolveWildcards(item, "<devid>/foo"))
	// Output:
	// dev42/foo <nil>
}
