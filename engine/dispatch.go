package engine

import (
	"context"
	"time"

	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

type writeRequest struct {
	inst    *Instance
	binding *binder.Binding
	value   interface{}
	caller  items.Caller
}

func (self *Engine) subscribeWriters() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for path, b := range self.writers {
		b := b
		id, err := self.registry.Subscribe(path, func(c items.Change) {
			self.dispatch(b, c)
		})
		if err != nil {
			self.log.Warnw("Write binding not subscribed", "item", path, "error", err)
			continue
		}
		self.subs[path] = id
	}
}

// dispatch queues a write for an item change. Changes made by the adapter
// owning the binding are its own readings coming back and are not written.
func (self *Engine) dispatch(b *binder.Binding, c items.Change) {
	if !c.Changed && !c.Item.EnforceUpdates() {
		return
	}
	if c.Caller.IsAdapter(b.AdapterID) {
		return
	}
	inst := self.Instance(b.AdapterID)
	if inst == nil {
		return
	}
	queue := inst.writeQueue()
	if queue == nil {
		return
	}
	wire, err := b.Encode(c.New)
	if err != nil {
		self.writeFailed(inst, b, err)
		return
	}
	err = queue.Submit(writeRequest{inst: inst, binding: b, value: wire, caller: c.Caller})
	if err != nil {
		self.writeFailed(inst, b, errors.Wrap(err, "queue write"))
	}
}

func (self *Engine) processWrite(ctx context.Context, req writeRequest) error {
	inst := req.inst
	switch inst.State() {
	case StateDegraded, StateStopped:
		err := errors.Errorf("adapter %s is %s", inst.ID, inst.State())
		self.writeFailed(inst, req.binding, err)
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, inst.Conf.WriteTimeout.Duration)
	defer cancel()

	err := inst.ensureConnected(wctx)
	if err == nil {
		err = inst.Adapter.Write(wctx, req.binding.Address, req.value)
	}
	if err != nil {
		self.writeFailed(inst, req.binding, err)
		return err
	}
	inst.mu.Lock()
	inst.writeCount++
	inst.lastWrite = time.Now()
	inst.mu.Unlock()
	self.metrics.Writes.WithLabelValues(inst.ID, "ok").Inc()
	self.log.Debugw("Written", "adapter", inst.ID, "address", req.binding.Address, "value", req.value, "caller", req.caller.String())
	return nil
}

// writeFailed records a failed write. The item keeps its value: it is the
// desired state, not the confirmed one.
func (self *Engine) writeFailed(inst *Instance, b *binder.Binding, err error) {
	inst.mu.Lock()
	inst.writeErrors++
	inst.lastError = err.Error()
	inst.mu.Unlock()
	self.metrics.Writes.WithLabelValues(inst.ID, "failed").Inc()
	self.log.Warnw("Write failed", "adapter", inst.ID, "item", b.Item.Path(), "address", b.Address, "error", err)
}
