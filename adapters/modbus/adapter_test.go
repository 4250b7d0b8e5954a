package modbus

import (
	"context"
	"fmt"
	"testing"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

type fakeHandler struct {
	connects, closes int
	err              error
}

func (h *fakeHandler) Connect() error {
	h.connects++
	return h.err
}

func (h *fakeHandler) Close() error {
	h.closes++
	return nil
}

// fakeClient answers from a register map. Methods the adapter does not use
// fall through to the nil embedded interface.
type fakeClient struct {
	modbus.Client
	holding map[uint16][]byte
	coils   map[uint16]bool
	written map[uint16][]byte
	err     error
}

func (c *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.holding[address][:quantity*2], nil
}

func (c *fakeClient) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return c.ReadHoldingRegisters(address, quantity)
}

func (c *fakeClient) ReadCoils(address, quantity uint16) ([]byte, error) {
	if c.coils[address] {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (c *fakeClient) WriteSingleRegister(address, value uint16) ([]byte, error) {
	c.written[address] = []byte{byte(value >> 8), byte(value)}
	return nil, nil
}

func (c *fakeClient) WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error) {
	c.written[address] = value
	return nil, nil
}

func (c *fakeClient) WriteSingleCoil(address, value uint16) ([]byte, error) {
	c.coils[address] = value == 0xFF00
	return nil, nil
}

func newAdapter(t *testing.T, client *fakeClient, h *fakeHandler) *Adapter {
	a := &Adapter{dial: func() (handler, modbus.Client) { return h, client }}
	require.NoError(t, a.Configure(config.Params{"host": "10.0.0.5:502"}))
	return a
}

func bind(t *testing.T, a *Adapter, path string, typ items.Type, addr, dataType string, dir binder.Direction) {
	reg := items.NewRegistry()
	item, _ := reg.Add(path, typ, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: item, AdapterID: "inverter", Address: addr, DataType: dataType, Direction: dir}))
}

func TestParseRegister(t *testing.T) {
	r, err := ParseRegister("holding:40069", "")
	require.NoError(t, err)
	assert.Equal(t, Register{Table: Holding, Address: 40069, DataType: "uint16"}, r)

	r, err = ParseRegister("input:30001", "float32")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), r.Quantity())

	r, err = ParseRegister("coil:1", "int32")
	require.NoError(t, err)
	assert.Equal(t, Register{Table: Coil, Address: 1}, r)

	r, err = ParseRegister("100", "")
	require.NoError(t, err)
	assert.Equal(t, Holding, r.Table)

	for _, bad := range [][2]string{{"eeprom:1", ""}, {"holding:x", ""}, {"holding:70000", ""}, {"holding:1", "float64"}} {
		_, err := ParseRegister(bad[0], bad[1])
		assert.True(t, errors.IsBinding(err), bad[0])
	}
}

func TestDecodeEncode(t *testing.T) {
	cases := []struct {
		dataType string
		data     []byte
		value    float64
	}{
		{"uint16", []byte{0x01, 0x02}, 258},
		{"int16", []byte{0xff, 0xfe}, -2},
		{"uint32", []byte{0x00, 0x01, 0x00, 0x00}, 65536},
		{"int32", []byte{0xff, 0xff, 0xff, 0xff}, -1},
		{"float32", []byte{0x41, 0xc8, 0x00, 0x00}, 25},
	}
	for _, c := range cases {
		r := Register{Table: Holding, Address: 1, DataType: c.dataType}
		v, err := r.Decode(c.data)
		require.NoError(t, err, c.dataType)
		assert.Equal(t, c.value, v, c.dataType)

		data, err := r.Encode(c.value)
		require.NoError(t, err, c.dataType)
		assert.Equal(t, c.data, data, c.dataType)
	}

	_, err := Register{Table: Holding, DataType: "uint32"}.Decode([]byte{1, 2})
	assert.True(t, errors.IsTransient(err))
	_, err = Register{Table: Holding, DataType: "uint16"}.Encode([]int{1})
	assert.True(t, errors.IsType(err))
}

func TestPollAndWrite(t *testing.T) {
	client := &fakeClient{
		holding: map[uint16][]byte{40069: {0x00, 0xfa}, 40083: {0x41, 0xc8, 0x00, 0x00}},
		coils:   map[uint16]bool{1: true},
		written: map[uint16][]byte{},
	}
	h := &fakeHandler{}
	a := newAdapter(t, client, h)
	bind(t, a, "inverter.power", items.TypeNum, "holding:40069", "", binder.ReadWrite)
	bind(t, a, "inverter.temp", items.TypeNum, "holding:40083", "float32", binder.Read)
	bind(t, a, "inverter.relay", items.TypeBool, "coil:1", "", binder.ReadWrite)

	_, err := a.Poll(context.Background())
	assert.True(t, errors.IsTransient(err), "not connected")

	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, 1, h.connects)

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []adapters.Reading{
		{Address: "holding:40069", Value: 250.0},
		{Address: "holding:40083", Value: 25.0},
		{Address: "coil:1", Value: true},
	}, readings)

	require.NoError(t, a.Write(context.Background(), "holding:40069", 300.0))
	assert.Equal(t, []byte{0x01, 0x2c}, client.written[40069])
	require.NoError(t, a.Write(context.Background(), "coil:1", false))
	assert.False(t, client.coils[1])
	require.NoError(t, a.Write(context.Background(), "coil:1", 1.0))
	assert.True(t, client.coils[1])
	require.NoError(t, a.Write(context.Background(), "coil:1", 0.0))
	assert.False(t, client.coils[1])
	require.NoError(t, a.Write(context.Background(), "coil:1", "on"))
	assert.True(t, client.coils[1])
	require.NoError(t, a.Write(context.Background(), "coil:1", "off"))
	assert.False(t, client.coils[1])
	client.coils[1] = true
	assert.True(t, errors.IsType(a.Write(context.Background(), "coil:1", "dimmed")))
	assert.True(t, errors.IsType(a.Write(context.Background(), "coil:1", nil)))
	assert.True(t, client.coils[1])
	assert.True(t, errors.IsBinding(a.Write(context.Background(), "holding:1", 1.0)))

	require.NoError(t, a.Disconnect())
	require.NoError(t, a.Disconnect())
	assert.Equal(t, 1, h.closes)
}

func TestBindRejects(t *testing.T) {
	a := newAdapter(t, &fakeClient{}, &fakeHandler{})
	reg := items.NewRegistry()
	item, _ := reg.Add("x", items.TypeNum, nil)
	err := a.Bind(&binder.Binding{Item: item, Address: "input:1", Direction: binder.Write})
	assert.True(t, errors.IsBinding(err))

	bind(t, a, "y", items.TypeNum, "holding:5", "int16", binder.Read)
	err = a.Bind(&binder.Binding{Item: item, Address: "holding:5", DataType: "uint32", Direction: binder.Read})
	assert.True(t, errors.IsBinding(err))
}

func TestErrorClasses(t *testing.T) {
	client := &fakeClient{err: &modbus.ModbusError{FunctionCode: 3, ExceptionCode: modbus.ExceptionCodeIllegalFunction}}
	a := newAdapter(t, client, &fakeHandler{})
	bind(t, a, "p", items.TypeNum, "holding:1", "", binder.Read)
	require.NoError(t, a.Connect(context.Background()))
	_, err := a.Poll(context.Background())
	assert.True(t, errors.IsPermanent(err))

	client.err = fmt.Errorf("i/o timeout")
	_, err = a.Poll(context.Background())
	assert.True(t, errors.IsTransient(err))

	h := &fakeHandler{err: fmt.Errorf("connection refused")}
	a = newAdapter(t, client, h)
	assert.True(t, errors.IsTransient(a.Connect(context.Background())))
}

func TestConfigure(t *testing.T) {
	a := &Adapter{}
	assert.True(t, errors.IsConfig(a.Configure(config.Params{})))
	assert.True(t, errors.IsConfig(a.Configure(config.Params{"host": "h:502", "unit": 300})))
	assert.NoError(t, a.Configure(config.Params{"device": "/dev/ttyUSB0", "baud": 9600}))
}
