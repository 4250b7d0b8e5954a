// Package ups polls an apcupsd network information server.
package ups

import (
	"context"
	"sync"

	"github.com/mdlayher/apcupsd"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
)

func init() {
	adapters.Register("ups", func() adapters.Adapter { return &Adapter{} })
}

// Fields exposed as addresses.
var Fields = []string{"status", "model", "serialno", "linev", "loadpct", "bcharge", "battv", "timeleft", "tonbatt", "numxfers", "selftest"}

func fields(status *apcupsd.Status) map[string]interface{} {
	return map[string]interface{}{
		"status":   status.Status,
		"model":    status.Model,
		"serialno": status.SerialNumber,
		"linev":    status.LineVoltage,
		"loadpct":  status.LoadPercent,
		"bcharge":  status.BatteryChargePercent,
		"battv":    status.BatteryVoltage,
		"timeleft": status.TimeLeft.Seconds(),
		"tonbatt":  status.TimeOnBattery.Seconds(),
		"numxfers": float64(status.NumberTransfers),
		"selftest": status.Selftest,
	}
}

type statusClient interface {
	Status() (*apcupsd.Status, error)
	Close() error
}

type Adapter struct {
	adapters.Bindings

	host string
	dial func(ctx context.Context, addr string) (statusClient, error)

	mu     sync.Mutex
	client statusClient
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "ups", DefaultDirection: binder.Read}
}

func (self *Adapter) Configure(params config.Params) error {
	self.host = params.String("host", "127.0.0.1:3551")
	if self.dial == nil {
		self.dial = dial
	}
	return nil
}

// The client is kept until a status request fails.
func dial(ctx context.Context, addr string) (statusClient, error) {
	return apcupsd.Dial("tcp", addr)
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Direction.CanWrite() {
		return errors.Bindingf("ups.Bind", "%s is read only", b.Address)
	}
	for _, f := range Fields {
		if f == b.Address {
			self.Add(b)
			return nil
		}
	}
	return errors.Bindingf("ups.Bind", "unknown status field %q", b.Address)
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client != nil {
		return nil
	}
	client, err := self.dial(ctx, self.host)
	if err != nil {
		return errors.Transient("ups.Connect", err)
	}
	self.client = client
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		return nil
	}
	err := self.client.Close()
	self.client = nil
	return err
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	client := self.client
	self.mu.Unlock()
	if client == nil {
		return nil, errors.Transientf("ups.Poll", "not connected")
	}
	status, err := client.Status()
	if err != nil {
		self.Disconnect()
		return nil, errors.Transient("ups.Poll", err)
	}
	values := fields(status)
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		ret = append(ret, adapters.Reading{Address: addr, Value: values[addr]})
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	return errors.Permanentf("ups.Write", "ups is read only")
}
