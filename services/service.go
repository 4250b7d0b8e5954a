// Package services runs the long lived parts of shng (the bus bridge, the
// HTTP API) and answers queries arriving on the message bus.
package services

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/pubsub"
	"github.com/shng-go/shng/pubsub/mqtt"
)

// Service interface
type Service interface {
	ID() string
	Run(ctx context.Context) error
}

// ServiceInit interface
type ServiceInit interface {
	Service
	Init() error
}

var (
	serviceMu  sync.Mutex
	serviceMap = map[string]Service{}
	enabled    []Service
)

var Publisher pubsub.Publisher
var Subscriber pubsub.Subscriber
var Log = zap.NewNop().Sugar()

// NewLogger builds the production zap logger at level, writing to stdout and
// the optional extra paths.
func NewLogger(level string, paths ...string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Config("services.NewLogger", err)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = append([]string{"stdout"}, paths...)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// SetupBroker connects Publisher and Subscriber to the MQTT broker at url, or
// to an in-process bus when url is empty. The returned func disconnects.
func SetupBroker(url, name string) (func() error, error) {
	if url == "" {
		bus := pubsub.NewBus()
		Publisher, Subscriber = bus, bus
		Log.Infow("Using in-process bus")
		return func() error { return nil }, nil
	}
	broker, err := mqtt.NewBroker(url, name, Log)
	if err != nil {
		return nil, err
	}
	Publisher = broker.Publisher()
	Subscriber = broker.Subscriber()
	return broker.Close, nil
}

func Register(service Service) {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	if _, exists := serviceMap[service.ID()]; exists {
		panic("services: duplicate service registered: " + service.ID())
	}
	serviceMap[service.ID()] = service
}

// Unregister all services.
func Reset() {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	serviceMap = map[string]Service{}
	enabled = nil
}

// Launch initialises the named services, then runs them until ctx is done or
// one of them fails.
func Launch(ctx context.Context, ids []string) error {
	serviceMu.Lock()
	enabled = []Service{}
	for _, name := range ids {
		service, ok := serviceMap[name]
		if !ok {
			serviceMu.Unlock()
			return errors.Configf("services.Launch", "service %s does not exist", name)
		}
		enabled = append(enabled, service)
	}
	serviceMu.Unlock()

	for _, service := range enabled {
		Log.Infow("Starting service", "service", service.ID())
		if service, ok := service.(ServiceInit); ok {
			if err := service.Init(); err != nil {
				return errors.Wrapf(err, "init service %s", service.ID())
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		QuerySubscriber(ctx)
		return nil
	})
	for _, service := range enabled {
		service := service
		g.Go(func() error {
			go Heartbeat(ctx, service.ID(), time.Minute)
			if err := service.Run(ctx); err != nil {
				return errors.Wrapf(err, "run service %s", service.ID())
			}
			return nil
		})
	}
	return g.Wait()
}

// Heartbeat publishes a retained heartbeat/<id> event every interval.
func Heartbeat(ctx context.Context, id string, interval time.Duration) {
	started := time.Now()
	fields := pubsub.Fields{
		"pid":     os.Getpid(),
		"started": started.Format(time.RFC3339),
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fields["uptime"] = int(time.Since(started).Seconds())
		ev := pubsub.NewEvent(fmt.Sprintf("heartbeat/%s", id), copyFields(fields))
		ev.Retained = true
		Publisher.Emit(ev)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func copyFields(fields pubsub.Fields) pubsub.Fields {
	ret := pubsub.Fields{}
	for k, v := range fields {
		ret[k] = v
	}
	return ret
}
