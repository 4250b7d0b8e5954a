// Package modbus reads and writes Modbus TCP or RTU registers and coils.
package modbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

func init() {
	adapters.Register("modbus", func() adapters.Adapter { return &Adapter{} })
}

type handler interface {
	Connect() error
	Close() error
}

type Adapter struct {
	adapters.Bindings

	host     string
	device   string
	baud     int
	unit     byte
	timeout  time.Duration
	dial     func() (handler, modbus.Client)
	registry map[string]Register

	mu      sync.Mutex
	handler handler
	client  modbus.Client
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "modbus", DefaultDirection: binder.Read}
}

func (self *Adapter) Configure(params config.Params) error {
	self.host = params.String("host", "")
	self.device = params.String("device", "")
	if self.host == "" && self.device == "" {
		return errors.Configf("modbus.Configure", "one of host or device is required")
	}
	baud, err := params.Int("baud", 19200)
	if err != nil {
		return err
	}
	unit, err := params.Int("unit", 1)
	if err != nil {
		return err
	}
	if unit < 0 || unit > 247 {
		return errors.Configf("modbus.Configure", "unit %d out of range", unit)
	}
	self.timeout, err = params.Duration("timeout", 5*time.Second)
	if err != nil {
		return err
	}
	self.baud = baud
	self.unit = byte(unit)
	self.registry = map[string]Register{}
	if self.dial == nil {
		self.dial = self.newClient
	}
	return nil
}

func (self *Adapter) newClient() (handler, modbus.Client) {
	if self.device != "" {
		h := modbus.NewRTUClientHandler(self.device)
		h.BaudRate = self.baud
		h.DataBits = 8
		h.Parity = "N"
		h.StopBits = 1
		h.SlaveId = self.unit
		h.Timeout = self.timeout
		return h, modbus.NewClient(h)
	}
	h := modbus.NewTCPClientHandler(self.host)
	h.SlaveId = self.unit
	h.Timeout = self.timeout
	return h, modbus.NewClient(h)
}

func (self *Adapter) Bind(b *binder.Binding) error {
	reg, err := ParseRegister(b.Address, b.DataType)
	if err != nil {
		return err
	}
	if b.Direction.CanWrite() && !reg.Table.Writable() {
		return errors.Bindingf("modbus.Bind", "%s registers are read only", reg.Table)
	}
	if existing, ok := self.registry[b.Address]; ok && existing != reg {
		return errors.Bindingf("modbus.Bind", "%s already bound as %s", b.Address, existing.DataType)
	}
	self.registry[b.Address] = reg
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client != nil {
		return nil
	}
	h, client := self.dial()
	if err := h.Connect(); err != nil {
		return errors.Transient("modbus.Connect", err)
	}
	self.handler, self.client = h, client
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.handler == nil {
		return nil
	}
	err := self.handler.Close()
	self.handler, self.client = nil, nil
	return err
}

func (self *Adapter) conn() (modbus.Client, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		return nil, errors.Transientf("modbus", "not connected")
	}
	return self.client, nil
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	client, err := self.conn()
	if err != nil {
		return nil, err
	}
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Transient("modbus.Poll", err)
		}
		reg := self.registry[addr]
		data, err := read(client, reg)
		if err != nil {
			return nil, classify("modbus.Poll", err)
		}
		value, err := reg.Decode(data)
		if err != nil {
			return nil, err
		}
		ret = append(ret, adapters.Reading{Address: addr, Value: value})
	}
	return ret, nil
}

func read(client modbus.Client, reg Register) ([]byte, error) {
	switch reg.Table {
	case Input:
		return client.ReadInputRegisters(reg.Address, reg.Quantity())
	case Coil:
		return client.ReadCoils(reg.Address, 1)
	case Discrete:
		return client.ReadDiscreteInputs(reg.Address, 1)
	default:
		return client.ReadHoldingRegisters(reg.Address, reg.Quantity())
	}
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	reg, ok := self.registry[address]
	if !ok {
		return errors.Bindingf("modbus.Write", "address %q not bound", address)
	}
	client, err := self.conn()
	if err != nil {
		return err
	}
	if reg.Table == Coil {
		on, err := coilState(value)
		if err != nil {
			return err
		}
		var state uint16
		if on {
			state = 0xFF00
		}
		_, err = client.WriteSingleCoil(reg.Address, state)
		return classify("modbus.Write", err)
	}
	data, err := reg.Encode(value)
	if err != nil {
		return err
	}
	if reg.Quantity() == 1 {
		_, err = client.WriteSingleRegister(reg.Address, uint16(data[0])<<8|uint16(data[1]))
	} else {
		_, err = client.WriteMultipleRegisters(reg.Address, reg.Quantity(), data)
	}
	return classify("modbus.Write", err)
}

// coilState reads bools, numbers (non-zero is on) and on/off style text.
func coilState(value interface{}) (bool, error) {
	if s, ok := value.(string); ok {
		value = util.ParseArg(strings.TrimSpace(s))
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case float32:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case uint16:
		return v != 0, nil
	}
	return false, errors.Typef("modbus.Write", "cannot write %T %v to a coil", value, value)
}

// classify maps an illegal function exception (the device does not speak the
// expected protocol) to a permanent error. Everything else is retried.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) && mbErr.ExceptionCode == modbus.ExceptionCodeIllegalFunction {
		return errors.Permanent(op, err)
	}
	return errors.Transient(op, err)
}
