// Package ping reports whether hosts answer ICMP echo requests.
//
// An address is a host name or IP. Items bound with datatype rtt receive the
// round trip time in milliseconds; all others receive true or false.
package ping

import (
	"context"
	"net"
	"sync"
	"time"

	fastping "github.com/tatsushid/go-fastping"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
)

func init() {
	adapters.Register("ping", func() adapters.Adapter { return &Adapter{} })
}

type Adapter struct {
	adapters.Bindings

	network string
	timeout time.Duration
	resolve func(host string) (*net.IPAddr, error)
	ping    func(ctx context.Context, addrs []*net.IPAddr) (map[string]time.Duration, error)
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "ping", DefaultDirection: binder.Read}
}

func (self *Adapter) Configure(params config.Params) error {
	self.network = params.String("network", "udp")
	if self.network != "udp" && self.network != "ip" {
		return errors.Configf("ping.Configure", "network must be udp or ip, not %q", self.network)
	}
	var err error
	self.timeout, err = params.Duration("timeout", time.Second)
	if err != nil {
		return err
	}
	if self.resolve == nil {
		self.resolve = func(host string) (*net.IPAddr, error) {
			return net.ResolveIPAddr("ip4", host)
		}
	}
	if self.ping == nil {
		self.ping = self.fastping
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Direction.CanWrite() {
		return errors.Bindingf("ping.Bind", "%s is read only", b.Address)
	}
	if b.DataType != "" && b.DataType != "rtt" && b.DataType != "bool" {
		return errors.Bindingf("ping.Bind", "unsupported data type %q", b.DataType)
	}
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error { return nil }

func (self *Adapter) Disconnect() error { return nil }

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	hosts := self.ReadAddresses()
	ips := map[string]string{}
	var addrs []*net.IPAddr
	for _, host := range hosts {
		// unresolvable hosts are unreachable
		if ip, err := self.resolve(host); err == nil {
			ips[host] = ip.String()
			addrs = append(addrs, ip)
		}
	}
	replies := map[string]time.Duration{}
	if len(addrs) > 0 {
		var err error
		if replies, err = self.ping(ctx, addrs); err != nil {
			return nil, errors.Transient("ping.Poll", err)
		}
	}
	var ret []adapters.Reading
	for _, host := range hosts {
		rtt, ok := replies[ips[host]]
		if self.wantsRTT(host) {
			if ok {
				ret = append(ret, adapters.Reading{Address: host, Value: float64(rtt) / float64(time.Millisecond)})
			}
			continue
		}
		ret = append(ret, adapters.Reading{Address: host, Value: ok})
	}
	return ret, nil
}

func (self *Adapter) wantsRTT(host string) bool {
	if b := self.First(host); b != nil {
		return b.DataType == "rtt"
	}
	return false
}

func (self *Adapter) fastping(ctx context.Context, addrs []*net.IPAddr) (map[string]time.Duration, error) {
	p := fastping.NewPinger()
	if _, err := p.Network(self.network); err != nil {
		return nil, err
	}
	timeout := self.timeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	p.MaxRTT = timeout
	for _, addr := range addrs {
		p.AddIPAddr(addr)
	}
	var mu sync.Mutex
	replies := map[string]time.Duration{}
	p.OnRecv = func(addr *net.IPAddr, rtt time.Duration) {
		mu.Lock()
		replies[addr.String()] = rtt
		mu.Unlock()
	}
	if err := p.Run(); err != nil {
		return nil, err
	}
	mu.Lock()
	defer mu.Unlock()
	return replies, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	return errors.Permanentf("ping.Write", "ping is read only")
}
