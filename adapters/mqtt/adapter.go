// Package mqtt binds items to MQTT topics.
//
// Readable bindings subscribe to their topic and receive each message as it
// arrives; writable bindings publish the item value. The payload is taken as
// text unless the binding names a JSON pointer (mqtt_pointer) into a JSON
// payload.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/exp/slices"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/adapters/httpjson"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("mqtt", func() adapters.Adapter { return &Adapter{} })
}

type Adapter struct {
	adapters.Bindings

	broker    string
	clientID  string
	username  string
	password  string
	qos       byte
	retain    bool
	timeout   time.Duration
	newClient func(opts *MQTT.ClientOptions) MQTT.Client

	mu       sync.Mutex
	client   MQTT.Client
	pointers map[string]httpjson.Pointer
	values   map[string]interface{}
	push     func([]adapters.Reading)
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "mqtt", DefaultDirection: binder.Read, Extra: []string{"pointer"}}
}

func defaultClientID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("shng/%s-%d", hostname, os.Getpid())
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.broker, err = params.Require("broker"); err != nil {
		return err
	}
	self.clientID = params.String("client_id", defaultClientID())
	self.username = params.String("username", "")
	self.password = params.String("password", "")
	qos, err := params.Int("qos", 1)
	if err != nil {
		return err
	}
	if qos < 0 || qos > 2 {
		return errors.Configf("mqtt.Configure", "qos must be 0, 1 or 2, not %d", qos)
	}
	self.qos = byte(qos)
	self.retain = params.Bool("retain", false)
	if self.timeout, err = params.Duration("timeout", 5*time.Second); err != nil {
		return err
	}
	self.pointers = map[string]httpjson.Pointer{}
	self.values = map[string]interface{}{}
	if self.newClient == nil {
		self.newClient = MQTT.NewClient
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Address == "" || strings.ContainsAny(b.Address, "+#") {
		return errors.Bindingf("mqtt.Bind", "invalid topic %q", b.Address)
	}
	if ptr := b.Param("pointer", ""); ptr != "" {
		pointer, err := httpjson.ParsePointer(ptr)
		if err != nil {
			return err
		}
		self.mu.Lock()
		defer self.mu.Unlock()
		if existing, ok := self.pointers[b.Address]; ok && !slices.Equal(existing, pointer) {
			return errors.Bindingf("mqtt.Bind", "%s already bound with another pointer", b.Address)
		}
		self.pointers[b.Address] = pointer
	}
	self.Add(b)
	return nil
}

func (self *Adapter) SetPush(push func([]adapters.Reading)) {
	self.mu.Lock()
	self.push = push
	self.mu.Unlock()
}

func wait(op string, token MQTT.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.Transientf(op, "timed out after %s", timeout)
	}
	if err := token.Error(); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "authori") || strings.Contains(msg, "password") {
			return errors.Permanent(op, err)
		}
		return errors.Transient(op, err)
	}
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client != nil {
		return nil
	}
	opts := MQTT.NewClientOptions()
	opts.AddBroker(self.broker)
	opts.SetClientID(self.clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(self.timeout)
	if self.username != "" {
		opts.SetUsername(self.username)
		opts.SetPassword(self.password)
	}
	// (re)subscribe when (re)connected
	opts.SetOnConnectHandler(self.subscribe)
	client := self.newClient(opts)
	if err := wait("mqtt.Connect", client.Connect(), self.timeout); err != nil {
		return err
	}
	self.client = client
	return nil
}

func (self *Adapter) subscribe(client MQTT.Client) {
	filters := map[string]byte{}
	for _, topic := range self.ReadAddresses() {
		filters[topic] = self.qos
	}
	if len(filters) == 0 {
		return
	}
	client.SubscribeMultiple(filters, func(client MQTT.Client, msg MQTT.Message) {
		self.receive(msg.Topic(), msg.Payload())
	})
}

func (self *Adapter) decode(topic string, payload []byte) (interface{}, bool) {
	self.mu.Lock()
	pointer, ok := self.pointers[topic]
	self.mu.Unlock()
	if !ok {
		return strings.TrimSpace(string(payload)), true
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, false
	}
	value, found := pointer.Get(doc)
	return value, found && value != nil
}

func (self *Adapter) receive(topic string, payload []byte) {
	if self.First(topic) == nil {
		return
	}
	value, ok := self.decode(topic, payload)
	if !ok {
		return
	}
	self.mu.Lock()
	self.values[topic] = value
	push := self.push
	self.mu.Unlock()
	if push != nil {
		push([]adapters.Reading{{Address: topic, Value: value}})
	}
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	client := self.client
	self.client = nil
	self.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

// Poll reports the last message of each read topic and fails once the broker
// connection is lost.
func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		return nil, errors.Transientf("mqtt.Poll", "not connected")
	}
	if !self.client.IsConnectionOpen() {
		return nil, errors.Transientf("mqtt.Poll", "connection to %s lost", self.broker)
	}
	var ret []adapters.Reading
	for _, topic := range self.ReadAddresses() {
		if v, ok := self.values[topic]; ok {
			ret = append(ret, adapters.Reading{Address: topic, Value: v})
		}
	}
	return ret, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	client := self.client
	self.mu.Unlock()
	if client == nil {
		return errors.Transientf("mqtt.Write", "not connected")
	}
	token := client.Publish(address, self.qos, self.retain, items.Format(value))
	return wait("mqtt.Write", token, self.timeout)
}
