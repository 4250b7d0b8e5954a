// Package serial talks a line protocol over a serial port.
//
// The device sends lines of the form addr=value whenever a value changes, and
// accepts the same form to set one. Received values are pushed to the bound
// items immediately and also returned by the next poll.
package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tarm/serial"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("serial", func() adapters.Adapter { return &Adapter{} })
}

type Adapter struct {
	adapters.Bindings

	device    string
	baud      int
	separator string
	open      func(device string, baud int) (io.ReadWriteCloser, error)

	mu     sync.Mutex
	port   io.ReadWriteCloser
	err    error
	values map[string]string
	push   func([]adapters.Reading)
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "serial", DefaultDirection: binder.ReadWrite}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.device, err = params.Require("device"); err != nil {
		return err
	}
	if self.baud, err = params.Int("baud", 9600); err != nil {
		return err
	}
	self.separator = params.String("separator", "=")
	self.values = map[string]string{}
	if self.open == nil {
		self.open = func(device string, baud int) (io.ReadWriteCloser, error) {
			return serial.OpenPort(&serial.Config{Name: device, Baud: baud})
		}
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Address == "" || strings.Contains(b.Address, self.separator) {
		return errors.Bindingf("serial.Bind", "invalid address %q", b.Address)
	}
	self.Add(b)
	return nil
}

func (self *Adapter) SetPush(push func([]adapters.Reading)) {
	self.mu.Lock()
	self.push = push
	self.mu.Unlock()
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port != nil {
		return nil
	}
	port, err := self.open(self.device, self.baud)
	if err != nil {
		return errors.Transient("serial.Connect", err)
	}
	self.port, self.err = port, nil
	go self.read(port)
	return nil
}

func (self *Adapter) read(port io.ReadWriteCloser) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		addr, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), self.separator)
		if !ok || self.First(addr) == nil {
			continue
		}
		self.mu.Lock()
		self.values[addr] = value
		push := self.push
		self.mu.Unlock()
		if push != nil {
			push([]adapters.Reading{{Address: addr, Value: value}})
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	self.mu.Lock()
	if self.port == port {
		self.err = err
	}
	self.mu.Unlock()
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	port := self.port
	self.port = nil
	self.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port == nil {
		return nil, errors.Transientf("serial.Poll", "not connected")
	}
	if self.err != nil {
		return nil, errors.Transient("serial.Poll", self.err)
	}
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		if v, ok := self.values[addr]; ok {
			ret = append(ret, adapters.Reading{Address: addr, Value: v})
		}
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.port == nil {
		return errors.Transientf("serial.Write", "not connected")
	}
	line := fmt.Sprintf("%s%s%s\n", address, self.separator, items.Format(value))
	if _, err := io.WriteString(self.port, line); err != nil {
		return errors.Transient("serial.Write", err)
	}
	return nil
}
