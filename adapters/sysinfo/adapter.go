// Package sysinfo reads host statistics from /proc and thermal zones from /sys.
//
// Addresses: load1, load5, load15, mem_total, mem_free, mem_available (kB),
// mem_used_pct, uptime (seconds), procs_running and thermal<N> (degrees C of
// thermal_zone<N>).
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	linuxproc "github.com/c9s/goprocinfo/linux"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
)

func init() {
	adapters.Register("sysinfo", func() adapters.Adapter { return &Adapter{} })
}

type source int

const (
	loadavg source = iota
	meminfo
	uptime
	thermal
)

var addresses = map[string]source{
	"load1":         loadavg,
	"load5":         loadavg,
	"load15":        loadavg,
	"procs_running": loadavg,
	"mem_total":     meminfo,
	"mem_free":      meminfo,
	"mem_available": meminfo,
	"mem_used_pct":  meminfo,
	"uptime":        uptime,
}

type Adapter struct {
	adapters.Bindings

	proc string
	sys  string
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "sysinfo", DefaultDirection: binder.Read}
}

func (self *Adapter) Configure(params config.Params) error {
	self.proc = params.String("proc", "/proc")
	self.sys = params.String("sys", "/sys")
	return nil
}

func sourceOf(addr string) (source, bool) {
	if s, ok := addresses[addr]; ok {
		return s, true
	}
	if n, ok := strings.CutPrefix(addr, "thermal"); ok && n != "" && strings.Trim(n, "0123456789") == "" {
		return thermal, true
	}
	return 0, false
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Direction.CanWrite() {
		return errors.Bindingf("sysinfo.Bind", "%s is read only", b.Address)
	}
	if _, ok := sourceOf(b.Address); !ok {
		return errors.Bindingf("sysinfo.Bind", "unknown statistic %q", b.Address)
	}
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error { return nil }

func (self *Adapter) Disconnect() error { return nil }

func readTemp(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var temp float64
	if _, err = fmt.Fscanf(f, "%f", &temp); err != nil {
		return 0, err
	}
	return temp / 1000, nil
}

// Poll reads each source at most once.
func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	var (
		load *linuxproc.LoadAvg
		mem  *linuxproc.MemInfo
		up   *linuxproc.Uptime
		err  error
	)
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		s, _ := sourceOf(addr)
		var value float64
		switch s {
		case loadavg:
			if load == nil {
				if load, err = linuxproc.ReadLoadAvg(filepath.Join(self.proc, "loadavg")); err != nil {
					return nil, errors.Transient("sysinfo.Poll", err)
				}
			}
			switch addr {
			case "load1":
				value = load.Last1Min
			case "load5":
				value = load.Last5Min
			case "load15":
				value = load.Last15Min
			default:
				value = float64(load.ProcessRunning)
			}
		case meminfo:
			if mem == nil {
				if mem, err = linuxproc.ReadMemInfo(filepath.Join(self.proc, "meminfo")); err != nil {
					return nil, errors.Transient("sysinfo.Poll", err)
				}
			}
			switch addr {
			case "mem_total":
				value = float64(mem.MemTotal)
			case "mem_free":
				value = float64(mem.MemFree)
			case "mem_available":
				value = float64(mem.MemAvailable)
			default:
				if mem.MemTotal == 0 {
					continue
				}
				value = 100 * float64(mem.MemTotal-mem.MemAvailable) / float64(mem.MemTotal)
			}
		case uptime:
			if up == nil {
				if up, err = linuxproc.ReadUptime(filepath.Join(self.proc, "uptime")); err != nil {
					return nil, errors.Transient("sysinfo.Poll", err)
				}
			}
			value = up.Total
		case thermal:
			zone := strings.TrimPrefix(addr, "thermal")
			path := filepath.Join(self.sys, "class", "thermal", "thermal_zone"+zone, "temp")
			if value, err = readTemp(path); err != nil {
				// zones come and go with hardware; skip a missing one
				continue
			}
		}
		ret = append(ret, adapters.Reading{Address: addr, Value: value})
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	return errors.Permanentf("sysinfo.Write", "sysinfo is read only")
}
