package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/engine"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/scheduler"
	"github.com/shng-go/shng/series"
	"github.com/shng-go/shng/services"
	"github.com/shng-go/shng/services/api"
	"github.com/shng-go/shng/services/bridge"
)

type app struct {
	log      *zap.SugaredLogger
	conf     *config.Config
	registry *items.Registry
	sched    *scheduler.Scheduler
	engine   *engine.Engine
	prom     *prometheus.Registry
	store    *series.Store
	tracker  *series.Tracker
}

// newApp builds the item tree and configures the adapters. Nothing runs yet.
func newApp(log *zap.SugaredLogger, conf *config.Config) (*app, error) {
	registry := items.NewRegistry()
	if err := registry.Build(conf.Items); err != nil {
		return nil, err
	}
	registry.Freeze()

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sched := scheduler.New(log.Named("scheduler"), conf.General.Workers)
	eng := engine.New(log.Named("engine"), registry, sched, conf.Lookups, engine.NewMetrics(prom))
	eng.Configure(conf)
	return &app{log: log, conf: conf, registry: registry, sched: sched, engine: eng, prom: prom}, nil
}

func (a *app) openSeries() error {
	store, err := series.Open(a.conf.Series.Path, series.Options{Bucket: a.conf.Series.Bucket.Duration}, a.log.Named("series"))
	if err != nil {
		return err
	}
	a.store = store
	a.tracker = series.NewTracker(a.log.Named("series"), store, a.registry)
	return a.tracker.Schedule(a.sched, a.conf.Series.Sync.Duration)
}

// start subscribes the series tracker before the first poll can fire.
func (a *app) start(ctx context.Context) error {
	if a.tracker != nil {
		if err := a.tracker.Start(); err != nil {
			return err
		}
	}
	if err := a.sched.Start(ctx); err != nil {
		return err
	}
	return a.engine.Start(ctx)
}

func (a *app) stop() {
	a.engine.Stop()
	a.sched.Stop()
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Errorw("Closing series store failed", "error", err)
		}
	}
}

func openConfig() (*config.Config, error) {
	return config.OpenFile(viper.GetString("config"))
}

func run() error {
	log, err := services.NewLogger(viper.GetString("log-level"), nonEmpty(viper.GetString("log-file"))...)
	if err != nil {
		return err
	}
	defer log.Sync()
	services.Log = log

	conf, err := openConfig()
	if err != nil {
		return err
	}
	a, err := newApp(log, conf)
	if err != nil {
		return err
	}
	if err := a.openSeries(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker := viper.GetString("mqtt")
	if broker == "" {
		broker = conf.Endpoints.Mqtt.Broker
	}
	closeBus, err := services.SetupBroker(broker, "shng")
	if err != nil {
		return err
	}
	defer closeBus()

	listen := viper.GetString("listen")
	if listen == "" {
		listen = conf.General.Api
	}
	if listen == "" {
		listen = ":8383"
	}
	services.Register(&bridge.Service{Log: log.Named("bridge"), Registry: a.registry, Engine: a.engine, Series: a.store})
	services.Register(&api.Service{Addr: listen, Log: log.Named("api"), Registry: a.registry, Engine: a.engine, Series: a.store, Gatherer: a.prom})

	if err := a.start(ctx); err != nil {
		a.stop()
		return err
	}
	defer a.stop()
	log.Infow("Running", "items", len(a.registry.Paths()), "adapters", len(a.engine.Instances()))
	return services.Launch(ctx, []string{"bridge", "api"})
}

func nonEmpty(s ...string) []string {
	var ret []string
	for _, v := range s {
		if v != "" {
			ret = append(ret, v)
		}
	}
	return ret
}

// check binds the configuration without polling and reports the result.
func check(w io.Writer) error {
	conf, err := openConfig()
	if err != nil {
		return err
	}
	a, err := newApp(zap.NewNop().Sugar(), conf)
	if err != nil {
		return err
	}
	if err := a.engine.Start(context.Background()); err != nil {
		return err
	}
	defer a.stop()

	fmt.Fprintf(w, "%d items\n", len(a.registry.Paths()))
	for _, st := range a.engine.Status().Adapters {
		line := fmt.Sprintf("adapter %s [%s]: %d bindings", st.ID, st.Type, st.BindingCount)
		if st.State == engine.StateStopped {
			line += " NOT STARTED: " + st.LastError
		}
		fmt.Fprintln(w, line)
	}
	dropped := a.engine.Dropped()
	for _, d := range dropped {
		fmt.Fprintf(w, "dropped %s: %s\n", d.Item, d.Err)
	}
	if len(dropped) > 0 {
		return fmt.Errorf("%d bindings dropped", len(dropped))
	}
	return nil
}

func listAdapters(w io.Writer) {
	for _, t := range adapters.Types() {
		fmt.Fprintln(w, t)
	}
}
