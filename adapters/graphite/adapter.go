// Package graphite forwards item values to a carbon server and reads metrics
// back through the graphite render API.
//
// Write bindings send each new value as a point of the addressed metric.
// Read bindings need the url param and receive the latest non-null point of
// the metric within window.
package graphite

import (
	"context"
	"time"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/lib/graphite"
)

func init() {
	adapters.Register("graphite", func() adapters.Adapter { return &Adapter{} })
}

type Adapter struct {
	adapters.Bindings

	url    string
	prefix string
	window string
	now    func() time.Time
	client graphite.IGraphite
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "graphite", DefaultDirection: binder.Write}
}

func (self *Adapter) Configure(params config.Params) error {
	host, err := params.Require("host")
	if err != nil {
		return err
	}
	self.url = params.String("url", "")
	self.prefix = params.String("prefix", "")
	self.window = params.String("window", "-10min")
	if self.now == nil {
		self.now = time.Now
	}
	if self.client == nil {
		self.client = graphite.New(host, self.url)
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Address == "" {
		return errors.Bindingf("graphite.Bind", "%s: empty metric path", b.Item.Path())
	}
	if b.Direction.CanRead() && self.url == "" {
		return errors.Bindingf("graphite.Bind", "%s: reading needs the url param", b.Address)
	}
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error { return nil }

func (self *Adapter) Disconnect() error { return nil }

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		series, err := self.client.Query(ctx, self.window, "now", self.prefix+addr)
		if err != nil {
			return nil, errors.Transient("graphite.Poll", err)
		}
		for _, s := range series {
			if last, ok := s.Last(); ok {
				ret = append(ret, adapters.Reading{Address: addr, Value: last.Value})
				break
			}
		}
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case bool:
		if v {
			f = 1
		}
	default:
		return errors.Typef("graphite.Write", "%s: cannot send %T", address, value)
	}
	if err := self.client.Add(self.prefix+address, self.now().Unix(), f); err != nil {
		return errors.Transient("graphite.Write", err)
	}
	if err := self.client.Flush(ctx); err != nil {
		return errors.Transient("graphite.Write", err)
	}
	return nil
}
