package yeelight

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/edgard/yeelight"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	shngerrors "github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

// bulb answers yeelight commands on a local port, one command per connection.
type bulb struct {
	mu       sync.Mutex
	commands []yeelight.Command
	power    string
}

func (b *bulb) serve(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			var cmd yeelight.Command
			json.Unmarshal([]byte(line), &cmd)
			b.mu.Lock()
			b.commands = append(b.commands, cmd)
			var reply string
			switch cmd.Method {
			case "get_prop":
				reply = fmt.Sprintf(`{"id":%d,"result":["%s","75","4000","16711680","0","0","2"]}`, cmd.ID, b.power)
			case "set_bright":
				reply = fmt.Sprintf(`{"id":%d,"error":{"code":-5000,"message":"general error"}}`, cmd.ID)
			default:
				if cmd.Method == "set_power" {
					b.power = cmd.Params.([]interface{})[0].(string)
				}
				reply = fmt.Sprintf(`{"id":%d,"result":["ok"]}`, cmd.ID)
			}
			b.mu.Unlock()
			fmt.Fprintf(conn, "%s\r\n", reply)
			conn.Close()
		}
	}()
	return l.Addr().String()
}

func (b *bulb) methods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ret []string
	for _, c := range b.commands {
		ret = append(ret, c.Method)
	}
	return ret
}

func TestLight(t *testing.T) {
	b := &bulb{power: "off"}
	host := b.serve(t)
	a := &Adapter{discover: func(time.Duration) ([]yeelight.Light, error) {
		t.Fatal("discovery not needed")
		return nil, nil
	}}
	require.NoError(t, a.Configure(config.Params{"duration": 200}))

	reg := items.NewRegistry()
	power, _ := reg.Add("living.lamp", items.TypeBool, nil)
	bright, _ := reg.Add("living.lamp.bright", items.TypeNum, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: power, Address: host + "/power", Direction: binder.ReadWrite}))
	require.NoError(t, a.Bind(&binder.Binding{Item: bright, Address: host + "/bright", Direction: binder.ReadWrite}))
	assert.True(t, shngerrors.IsBinding(a.Bind(&binder.Binding{Item: bright, Address: host + "/hue"})))

	require.NoError(t, a.Connect(context.Background()))
	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, false, readings[0].Value)
	assert.Equal(t, 75.0, readings[1].Value)

	require.NoError(t, a.Write(context.Background(), host+"/power", true))
	readings, err = a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, readings[0].Value)

	assert.True(t, shngerrors.IsType(a.Write(context.Background(), host+"/bright", 50.0)))
	assert.Equal(t, []string{"get_prop", "set_power", "get_prop", "set_bright"}, b.methods())
}

func TestDiscovery(t *testing.T) {
	b := &bulb{power: "on"}
	host := b.serve(t)
	a := &Adapter{discover: func(time.Duration) ([]yeelight.Light, error) {
		return []yeelight.Light{{ID: "0x02dfb19a", Location: host}, {ID: "0x0other", Location: "10.0.0.9:55443"}}, nil
	}}
	require.NoError(t, a.Configure(config.Params{}))
	reg := items.NewRegistry()
	power, _ := reg.Add("hall.lamp", items.TypeBool, nil)
	require.NoError(t, a.Bind(&binder.Binding{Item: power, Address: "0x02dfb19a/power", Direction: binder.Read}))

	require.NoError(t, a.Connect(context.Background()))
	readings, err := a.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, readings[0].Value)

	missing := &Adapter{discover: func(time.Duration) ([]yeelight.Light, error) { return nil, nil }}
	require.NoError(t, missing.Configure(config.Params{}))
	require.NoError(t, missing.Bind(&binder.Binding{Item: power, Address: "0x02dfb19a/power", Direction: binder.Read}))
	assert.True(t, shngerrors.IsTransient(missing.Connect(context.Background())))

	failing := &Adapter{discover: func(time.Duration) ([]yeelight.Light, error) { return nil, errors.New("no multicast") }}
	require.NoError(t, failing.Configure(config.Params{}))
	require.NoError(t, failing.Bind(&binder.Binding{Item: power, Address: "0x02dfb19a/power", Direction: binder.Read}))
	assert.True(t, shngerrors.IsTransient(failing.Connect(context.Background())))
}

func TestAddress(t *testing.T) {
	assert.True(t, isHost("192.168.1.20"))
	assert.True(t, isHost("lamp.lan:55443"))
	assert.False(t, isHost("0x0000000002dfb19a"))
	assert.Equal(t, "192.168.1.20:55443", withPort("192.168.1.20"))
	assert.Equal(t, "192.168.1.20:1234", withPort("192.168.1.20:1234"))
}
