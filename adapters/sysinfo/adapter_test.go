package sysinfo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func writeFile(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPoll(t *testing.T) {
	root := t.TempDir()
	proc, sys := filepath.Join(root, "proc"), filepath.Join(root, "sys")
	writeFile(t, filepath.Join(proc, "loadavg"), "0.50 0.25 0.10 2/345 6789\n")
	writeFile(t, filepath.Join(proc, "meminfo"), "MemTotal:       1000 kB\nMemFree:         200 kB\nMemAvailable:    250 kB\n")
	writeFile(t, filepath.Join(proc, "uptime"), "3600.50 7000.00\n")
	writeFile(t, filepath.Join(sys, "class", "thermal", "thermal_zone0", "temp"), "45500\n")

	a := &Adapter{}
	require.NoError(t, a.Configure(config.Params{"proc": proc, "sys": sys}))
	reg := items.NewRegistry()
	for _, addr := range []string{"load1", "load15", "mem_available", "mem_used_pct", "uptime", "thermal0", "thermal3"} {
		item, _ := reg.Add("host."+addr, items.TypeNum, nil)
		require.NoError(t, a.Bind(&binder.Binding{Item: item, Address: addr, Direction: binder.Read}))
	}

	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []adapters.Reading{
		{Address: "load1", Value: 0.5},
		{Address: "load15", Value: 0.1},
		{Address: "mem_available", Value: 250.0},
		{Address: "mem_used_pct", Value: 75.0},
		{Address: "uptime", Value: 3600.5},
		{Address: "thermal0", Value: 45.5},
	}, readings)

	require.NoError(t, os.Remove(filepath.Join(proc, "loadavg")))
	_, err = a.Poll(context.Background())
	assert.True(t, errors.IsTransient(err))
}

func TestBind(t *testing.T) {
	a := &Adapter{}
	require.NoError(t, a.Configure(config.Params{}))
	reg := items.NewRegistry()
	item, _ := reg.Add("x", items.TypeNum, nil)
	for _, bad := range []string{"cpu", "thermal", "thermalx"} {
		assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: bad, Direction: binder.Read})), bad)
	}
	assert.True(t, errors.IsBinding(a.Bind(&binder.Binding{Item: item, Address: "load1", Direction: binder.Write})))
}
