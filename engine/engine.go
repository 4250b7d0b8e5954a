// Package engine drives adapters: it binds items to adapter instances, polls
// every instance on its cycle or cron schedule, applies the readings to items,
// routes item changes to the owning adapter's write operation and reports the
// health of it all.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/lib/worker"
	"github.com/shng-go/shng/scheduler"
)

// WriteQueueSize is the number of writes an instance buffers.
const WriteQueueSize = 64

type Engine struct {
	log      *zap.SugaredLogger
	registry *items.Registry
	sched    *scheduler.Scheduler
	binder   *binder.Binder
	metrics  *Metrics

	mu        sync.RWMutex
	instances map[string]*Instance
	order     []string
	writers   map[string]*binder.Binding
	subs      map[string]items.Subscription
	dropped   []binder.Dropped
	ctx       context.Context
	started   bool
}

// New creates an engine. metrics may be nil.
func New(log *zap.SugaredLogger, registry *items.Registry, sched *scheduler.Scheduler, lookups map[string]map[string]string, metrics *Metrics) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		log:       log,
		registry:  registry,
		sched:     sched,
		binder:    binder.New(log.Named("binder"), lookups),
		metrics:   metrics,
		instances: map[string]*Instance{},
		subs:      map[string]items.Subscription{},
	}
}

// Configure creates and configures an instance for every configured adapter.
// An adapter that fails to configure is kept in the stopped state and does not
// prevent the others from starting.
func (self *Engine) Configure(conf *config.Config) {
	for _, id := range conf.AdapterIDs() {
		ac := conf.Adapters[id]
		a, err := adapters.New(ac.Type)
		if err == nil {
			err = a.Configure(ac.Params)
		}
		if err != nil {
			self.log.Errorw("Adapter not started", "adapter", id, "type", ac.Type, "error", err)
			self.addFailed(id, ac, err)
			continue
		}
		if err := self.Add(id, ac, a); err != nil {
			self.log.Errorw("Adapter not added", "adapter", id, "error", err)
		}
	}
}

// Add a configured adapter instance. The instance is bound and scheduled by Start.
func (self *Engine) Add(id string, conf config.AdapterConf, a adapters.Adapter) error {
	inst := &Instance{ID: id, Type: conf.Type, Conf: conf, Adapter: a}
	if conf.Cron != "" {
		schedule, err := scheduler.ParseCron(conf.Cron)
		if err != nil {
			return err
		}
		inst.schedule = schedule
	}
	if inst.Type == "" {
		inst.Type = id
	}
	if inst.Conf.WriteTimeout.Duration <= 0 {
		inst.Conf.WriteTimeout.Duration = config.DefaultWriteTimeout
	}
	if inst.Conf.Cycle.Duration <= 0 && inst.Conf.Cron == "" {
		inst.Conf.Cycle.Duration = config.DefaultCycle
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	if self.started {
		return errors.Configf("engine.Add", "adapter %s added after start", id)
	}
	if _, exists := self.instances[id]; exists {
		return errors.Configf("engine.Add", "duplicate adapter %s", id)
	}
	self.instances[id] = inst
	self.order = append(self.order, id)
	return nil
}

func (self *Engine) addFailed(id string, conf config.AdapterConf, err error) {
	inst := &Instance{ID: id, Type: conf.Type, Conf: conf, state: StateStopped, lastError: err.Error()}
	self.mu.Lock()
	defer self.mu.Unlock()
	if _, exists := self.instances[id]; !exists {
		self.instances[id] = inst
		self.order = append(self.order, id)
	}
}

// Instance by id, or nil.
func (self *Engine) Instance(id string) *Instance {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.instances[id]
}

// Instances in the order they were added.
func (self *Engine) Instances() []*Instance {
	self.mu.RLock()
	defer self.mu.RUnlock()
	ret := make([]*Instance, 0, len(self.order))
	for _, id := range self.order {
		ret = append(ret, self.instances[id])
	}
	return ret
}

// Dropped bindings of the last Start.
func (self *Engine) Dropped() []binder.Dropped {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return append([]binder.Dropped(nil), self.dropped...)
}

// Start binds the items to the adapter instances, subscribes the write
// dispatcher and schedules a poll task per instance. The first poll of an
// instance without an offset runs as soon as the scheduler starts.
func (self *Engine) Start(ctx context.Context) error {
	self.mu.Lock()
	if self.started {
		self.mu.Unlock()
		return errors.New("engine already started")
	}
	self.started = true
	self.ctx = ctx

	var targets []binder.Instance
	for _, id := range self.order {
		inst := self.instances[id]
		if inst.Adapter != nil {
			targets = append(targets, binder.Instance{ID: id, Type: inst.Type, Target: inst.Adapter})
		}
	}
	result := self.binder.Bind(self.registry, targets)
	self.writers = result.Writers
	self.dropped = result.Dropped
	instances := make([]*Instance, 0, len(self.order))
	for _, id := range self.order {
		inst := self.instances[id]
		if inst.Adapter == nil {
			continue
		}
		inst.index(result.Bindings[id])
		instances = append(instances, inst)
	}
	self.mu.Unlock()

	for _, inst := range instances {
		if err := self.startInstance(inst); err != nil {
			self.log.Errorw("Adapter not scheduled", "adapter", inst.ID, "error", err)
			inst.mu.Lock()
			inst.state = StateStopped
			inst.lastError = err.Error()
			inst.mu.Unlock()
		}
	}
	self.subscribeWriters()
	self.log.Infow("Engine started", "adapters", len(instances), "bindings", result.Count(), "dropped", len(result.Dropped))
	return nil
}

func (self *Engine) startInstance(inst *Instance) error {
	ictx, cancel := context.WithCancel(self.ctx)
	queue := worker.NewPool(1, WriteQueueSize, self.processWrite)
	if err := queue.Start(ictx); err != nil {
		cancel()
		return err
	}
	inst.mu.Lock()
	inst.cancel = cancel
	inst.writes = queue
	inst.mu.Unlock()
	if pusher, ok := inst.Adapter.(adapters.Pusher); ok {
		pusher.SetPush(func(readings []adapters.Reading) {
			self.push(inst, readings)
		})
	}
	inst.mu.Lock()
	inst.state = StateStarting
	inst.errorCount = 0
	inst.lastError = ""
	inst.mu.Unlock()
	self.metrics.Degraded.WithLabelValues(inst.ID).Set(0)
	return self.schedule(inst)
}

func (self *Engine) schedule(inst *Instance) error {
	opts := scheduler.Options{
		Cycle:    inst.Conf.Cycle.Duration,
		Cron:     inst.Conf.Cron,
		Priority: inst.Conf.Priority,
		Offset:   inst.Conf.Offset.Duration,
	}
	err := self.sched.Add(inst.taskName(), func(ctx context.Context) {
		self.tick(ctx, inst)
	}, opts)
	if err != nil {
		return err
	}
	if opts.Offset <= 0 {
		return self.sched.Trigger(inst.taskName())
	}
	return nil
}

func (self *Engine) stopInstance(inst *Instance) {
	if err := self.sched.Remove(inst.taskName()); err != nil && !errors.Is(err, scheduler.ErrNotFound) {
		self.log.Warnw("Removing poll task", "adapter", inst.ID, "error", err)
	}
	inst.mu.Lock()
	cancel, queue := inst.cancel, inst.writes
	inst.cancel, inst.writes = nil, nil
	inst.mu.Unlock()
	if queue != nil {
		if err := queue.Stop(inst.Conf.WriteTimeout.Duration); err != nil {
			self.log.Warnw("Pending writes not completed", "adapter", inst.ID, "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
	inst.lock.Lock()
	defer inst.lock.Unlock()
	if err := inst.disconnect(); err != nil {
		self.log.Warnw("Disconnect failed", "adapter", inst.ID, "error", err)
	}
}

// Restart an instance: the operator action that brings a degraded adapter
// back. Pending ticks are cancelled, the adapter is disconnected, its error
// state cleared and polling rescheduled.
func (self *Engine) Restart(id string) error {
	inst := self.Instance(id)
	if inst == nil {
		return errors.Errorf("unknown adapter %s", id)
	}
	if inst.Adapter == nil {
		return errors.Configf("engine.Restart", "adapter %s is not configured: %s", id, inst.lastError)
	}
	self.log.Infow("Restarting adapter", "adapter", id)
	self.stopInstance(inst)
	return self.startInstance(inst)
}

// Stop every instance: unsubscribe the dispatcher, remove the poll tasks,
// drain the write queues and disconnect.
func (self *Engine) Stop() {
	self.mu.Lock()
	if !self.started {
		self.mu.Unlock()
		return
	}
	self.started = false
	subs := self.subs
	self.subs = map[string]items.Subscription{}
	self.mu.Unlock()

	for path, id := range subs {
		self.registry.Unsubscribe(path, id)
	}
	for _, inst := range self.Instances() {
		if inst.Adapter == nil {
			continue
		}
		self.stopInstance(inst)
		inst.setState(StateStopped)
	}
	self.log.Infow("Engine stopped")
}
