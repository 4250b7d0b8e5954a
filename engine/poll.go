package engine

import (
	"context"
	"time"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

// Poll runs one poll of an instance now, outside of its schedule. It returns
// the poll error, or nil when the poll was skipped because another one is in
// progress.
func (self *Engine) Poll(ctx context.Context, id string) error {
	inst := self.Instance(id)
	if inst == nil || inst.Adapter == nil {
		return errors.Errorf("unknown adapter %s", id)
	}
	return self.tick(ctx, inst)
}

func (self *Engine) tick(ctx context.Context, inst *Instance) error {
	if !inst.lock.TryLock() {
		self.log.Warnw("Poll still in progress, skipping", "adapter", inst.ID)
		self.metrics.Polls.WithLabelValues(inst.ID, "skipped").Inc()
		return nil
	}
	defer inst.lock.Unlock()

	switch inst.State() {
	case StateDegraded, StateStopped:
		return nil
	}

	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, inst.pollTimeout(start))
	defer cancel()

	readings, err := self.pollOnce(pctx, inst)
	self.metrics.PollDuration.WithLabelValues(inst.ID).Observe(time.Since(start).Seconds())

	inst.mu.Lock()
	// last poll only moves forward, whatever the wall clock does
	if start.After(inst.lastPoll) {
		inst.lastPoll = start
	}
	inst.mu.Unlock()

	if err != nil {
		self.pollFailed(inst, err)
		return err
	}
	self.metrics.Polls.WithLabelValues(inst.ID, "ok").Inc()
	self.apply(inst, readings)
	return nil
}

func (self *Engine) pollOnce(ctx context.Context, inst *Instance) ([]adapters.Reading, error) {
	if err := inst.ensureConnected(ctx); err != nil {
		if errors.ClassOf(err) == errors.ClassTransient {
			return nil, errors.Transient("connect", err)
		}
		return nil, err
	}
	return inst.Adapter.Poll(ctx)
}

func (self *Engine) pollFailed(inst *Instance, err error) {
	class := errors.ClassOf(err)
	inst.mu.Lock()
	inst.errorCount++
	inst.lastError = err.Error()
	inst.mu.Unlock()

	switch class {
	case errors.ClassPermanent, errors.ClassConfig:
		self.log.Errorw("Adapter degraded", "adapter", inst.ID, "error", err)
		self.metrics.Polls.WithLabelValues(inst.ID, "permanent").Inc()
		self.metrics.Degraded.WithLabelValues(inst.ID).Set(1)
		inst.setState(StateDegraded)
		self.sched.Cancel(inst.taskName())
		if err := inst.disconnect(); err != nil {
			self.log.Warnw("Disconnect failed", "adapter", inst.ID, "error", err)
		}
	default:
		self.log.Warnw("Poll failed", "adapter", inst.ID, "error", err)
		self.metrics.Polls.WithLabelValues(inst.ID, "transient").Inc()
		if err := inst.disconnect(); err != nil {
			self.log.Debugw("Disconnect failed", "adapter", inst.ID, "error", err)
		}
	}
}

// push applies readings that arrived outside of a poll.
func (self *Engine) push(inst *Instance, readings []adapters.Reading) {
	inst.lock.Lock()
	defer inst.lock.Unlock()
	switch inst.State() {
	case StateDegraded, StateStopped:
		return
	}
	self.apply(inst, readings)
}

// apply sets the items bound to each reading, in the order of the readings
// and, per address, in binding order.
func (self *Engine) apply(inst *Instance, readings []adapters.Reading) {
	caller := items.Adapter(inst.ID)
	updates := 0
	for _, reading := range readings {
		for _, b := range inst.byAddress[reading.Address] {
			value, err := b.Decode(reading.Value)
			if err == nil {
				err = self.registry.Set(b.Item.Path(), value, caller, inst.ID, "")
			}
			if err != nil {
				self.log.Warnw("Update discarded", "adapter", inst.ID, "item", b.Item.Path(), "address", reading.Address, "error", err)
				continue
			}
			updates++
		}
	}
	if updates > 0 {
		self.metrics.ItemUpdates.WithLabelValues(inst.ID).Add(float64(updates))
	}
}
