// Package yeelight controls yeelight bulbs on the local network.
//
// An address is <light>/<property>. The light is a host[:port] or a light id
// found by SSDP discovery; the property is power (bool), bright (1-100), ct
// (colour temperature in kelvin) or rgb (0xRRGGBB).
package yeelight

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/edgard/yeelight"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("yeelight", func() adapters.Adapter { return &Adapter{} })
}

const DefaultPort = "55443"

var properties = map[string]bool{"power": true, "bright": true, "ct": true, "rgb": true}

type Adapter struct {
	adapters.Bindings

	duration int
	timeout  time.Duration
	discover func(timeout time.Duration) ([]yeelight.Light, error)

	mu     sync.Mutex
	lights map[string]*yeelight.Light
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "yeelight", DefaultDirection: binder.ReadWrite}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.duration, err = params.Int("duration", 500); err != nil {
		return err
	}
	if self.timeout, err = params.Duration("discover_timeout", 3*time.Second); err != nil {
		return err
	}
	if self.discover == nil {
		self.discover = yeelight.Discover
	}
	return nil
}

func splitAddress(address string) (light, prop string, ok bool) {
	n := strings.LastIndexByte(address, '/')
	if n <= 0 {
		return "", "", false
	}
	light, prop = address[:n], address[n+1:]
	return light, prop, properties[prop]
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if _, _, ok := splitAddress(b.Address); !ok {
		return errors.Bindingf("yeelight.Bind", "invalid address %q, want <light>/power|bright|ct|rgb", b.Address)
	}
	self.Add(b)
	return nil
}

// isHost tells a host[:port] from a light id such as 0x0000000002dfb19a.
func isHost(light string) bool {
	return strings.ContainsAny(light, ".:") || net.ParseIP(light) != nil
}

func withPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, DefaultPort)
}

// Connect resolves every bound light. Discovery only runs when a light is
// bound by id.
func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.lights != nil {
		return nil
	}
	lights := map[string]*yeelight.Light{}
	var ids []string
	for _, addr := range self.Addresses() {
		light, _, _ := splitAddress(addr)
		if _, seen := lights[light]; seen {
			continue
		}
		if isHost(light) {
			lights[light] = &yeelight.Light{Location: withPort(light)}
		} else {
			lights[light] = nil
			ids = append(ids, light)
		}
	}
	if len(ids) > 0 {
		found, err := self.discover(self.timeout)
		if err != nil {
			return errors.Transient("yeelight.Connect", err)
		}
		for i := range found {
			if _, wanted := lights[found[i].ID]; wanted {
				lights[found[i].ID] = &found[i]
			}
		}
		for _, id := range ids {
			if lights[id] == nil {
				return errors.Transientf("yeelight.Connect", "light %s not discovered", id)
			}
		}
	}
	self.lights = lights
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	self.lights = nil
	self.mu.Unlock()
	return nil
}

func (self *Adapter) light(op, name string) (*yeelight.Light, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.lights == nil {
		return nil, errors.Transientf(op, "not connected")
	}
	light := self.lights[name]
	if light == nil {
		return nil, errors.Bindingf(op, "light %s not bound", name)
	}
	return light, nil
}

// update refreshes the light properties. yeelight.Light.Update panics on a
// malformed reply.
func update(light *yeelight.Light) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed reply from %s: %v", light.Location, r)
		}
	}()
	return light.Update()
}

func propValue(light *yeelight.Light, prop string) interface{} {
	switch prop {
	case "power":
		return light.Power == "on"
	case "bright":
		return float64(light.Bright)
	case "ct":
		return float64(light.ColorTemp)
	}
	return float64(light.RGB)
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	updated := map[string]bool{}
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		name, prop, _ := splitAddress(addr)
		light, err := self.light("yeelight.Poll", name)
		if err != nil {
			return nil, err
		}
		if !updated[name] {
			if err := update(light); err != nil {
				return nil, errors.Transient("yeelight.Poll", errors.Wrap(err, name))
			}
			updated[name] = true
		}
		ret = append(ret, adapters.Reading{Address: addr, Value: propValue(light, prop)})
	}
	return ret, nil
}

func checkReply(op, reply string) error {
	var res yeelight.Result
	if err := json.Unmarshal([]byte(reply), &res); err != nil {
		return errors.Transient(op, errors.Wrapf(err, "reply %q", strings.TrimSpace(reply)))
	}
	if res.Error != nil {
		return errors.Typef(op, "light refused: %v", res.Error)
	}
	return nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	name, prop, ok := splitAddress(address)
	if !ok {
		return errors.Bindingf("yeelight.Write", "invalid address %q", address)
	}
	light, err := self.light("yeelight.Write", name)
	if err != nil {
		return err
	}
	var reply string
	if prop == "power" {
		on, err := items.TypeBool.Convert(value)
		if err != nil {
			return errors.Type("yeelight.Write", err)
		}
		if on.(bool) {
			reply, err = light.PowerOn(self.duration)
		} else {
			reply, err = light.PowerOff(self.duration)
		}
		if err != nil {
			return errors.Transient("yeelight.Write", err)
		}
		return checkReply("yeelight.Write", reply)
	}
	f, err := items.TypeNum.Convert(value)
	if err != nil {
		return errors.Type("yeelight.Write", err)
	}
	n := int(f.(float64))
	switch prop {
	case "bright":
		reply, err = light.SetBrightness(n, self.duration)
	case "ct":
		reply, err = light.SetTemp(n, self.duration)
	case "rgb":
		reply, err = light.SetRGB(n>>16&0xff, n>>8&0xff, n&0xff, self.duration)
	}
	if err != nil {
		return errors.Transient("yeelight.Write", err)
	}
	return checkReply("yeelight.Write", reply)
}
