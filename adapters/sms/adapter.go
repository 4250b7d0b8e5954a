// Package sms sends and receives text messages through a GSM modem.
//
// An address is a telephone number. Writing an item texts its value to the
// number. Each poll reads the messages stored on the modem: unread messages
// from a read-bound number become readings, and every stored message is then
// deleted.
package sms

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/barnybug/gogsmmodem"
	"github.com/tarm/serial"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("sms", func() adapters.Adapter { return &Adapter{} })
}

type modem interface {
	ListMessages(filter string) (*gogsmmodem.MessageList, error)
	DeleteMessage(n int) error
	SendMessage(telephone, body string) error
	Close() error
}

type Adapter struct {
	adapters.Bindings

	device string
	baud   int
	open   func(conf *serial.Config) (modem, error)

	mu    sync.Mutex
	modem modem
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "sms", DefaultDirection: binder.Write}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.device, err = params.Require("device"); err != nil {
		return err
	}
	if self.baud, err = params.Int("baud", 115200); err != nil {
		return err
	}
	if self.open == nil {
		self.open = func(conf *serial.Config) (modem, error) {
			return gogsmmodem.Open(conf, false)
		}
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Address == "" {
		return errors.Bindingf("sms.Bind", "%s: missing telephone number", b.Item.Path())
	}
	self.Add(b)
	return nil
}

// devName resolves a device glob such as /dev/ttyUSB*.
func devName(pattern string) string {
	matches, _ := filepath.Glob(pattern)
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.modem != nil {
		return nil
	}
	name := devName(self.device)
	if name == "" {
		return errors.Transientf("sms.Connect", "no device matches %s", self.device)
	}
	m, err := self.open(&serial.Config{Name: name, Baud: self.baud})
	if err != nil {
		return errors.Transient("sms.Connect", err)
	}
	self.modem = m
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	m := self.modem
	self.modem = nil
	self.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

// fail drops a modem that stopped answering so the next poll reopens it.
func (self *Adapter) fail(m modem, op string, err error) error {
	self.mu.Lock()
	if self.modem == m {
		self.modem = nil
	}
	self.mu.Unlock()
	m.Close()
	return errors.Transient(op, err)
}

func (self *Adapter) conn(op string) (modem, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.modem == nil {
		return nil, errors.Transientf(op, "not connected")
	}
	return self.modem, nil
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	m, err := self.conn("sms.Poll")
	if err != nil {
		return nil, err
	}
	msgs, err := m.ListMessages("ALL")
	if err != nil {
		return nil, self.fail(m, "sms.Poll", err)
	}
	var ret []adapters.Reading
	for _, msg := range *msgs {
		if msg.Status == "REC UNREAD" {
			if b := self.First(msg.Telephone); b != nil && b.Direction.CanRead() {
				ret = append(ret, adapters.Reading{Address: msg.Telephone, Value: msg.Body})
			}
		}
		if err := m.DeleteMessage(msg.Index); err != nil {
			return ret, self.fail(m, "sms.Poll", err)
		}
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	m, err := self.conn("sms.Write")
	if err != nil {
		return err
	}
	if err := m.SendMessage(address, items.Format(value)); err != nil {
		return self.fail(m, "sms.Write", err)
	}
	return nil
}
