// Package mqtt carries bus events over an MQTT broker, below a topic prefix.
package mqtt

import (
	"fmt"
	"os"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/shng-go/shng/errors"
)

const Prefix = "shng/"

const timeout = 5 * time.Second

var newClient = MQTT.NewClient

type Broker struct {
	broker     string
	log        *zap.SugaredLogger
	client     MQTT.Client
	subscriber *Subscriber
}

func clientOptions(broker, name string) *MQTT.ClientOptions {
	// generate a client id
	hostname, _ := os.Hostname()
	clientId := fmt.Sprintf("shng/%s-%s-%d", name, hostname, os.Getpid())
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientId)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	return opts
}

// NewBroker connects to broker. Subscriptions are restored on reconnect.
func NewBroker(broker, name string, log *zap.SugaredLogger) (*Broker, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	self := &Broker{broker: broker, log: log}
	self.subscriber = &Subscriber{broker: self, topicCount: map[string]int{}}
	opts := clientOptions(broker, name)
	opts.SetDefaultPublishHandler(self.subscriber.publishHandler)
	opts.SetOnConnectHandler(self.subscriber.connectHandler)
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		log.Warnw("Bus connection lost", "broker", broker, "error", err)
	})
	self.client = newClient(opts)
	token := self.client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, errors.Transientf("mqtt.NewBroker", "connecting to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Transient("mqtt.NewBroker", err)
	}
	log.Infow("Bus connected", "broker", broker)
	return self, nil
}

func (self *Broker) ID() string {
	return "mqtt: " + self.broker
}

func (self *Broker) Subscriber() *Subscriber {
	return self.subscriber
}

func (self *Broker) Publisher() *Publisher {
	return &Publisher{broker: self}
}

func (self *Broker) Close() error {
	self.client.Disconnect(250)
	return nil
}
