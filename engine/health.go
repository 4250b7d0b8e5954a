package engine

import (
	"time"

	"github.com/shng-go/shng/items"
)

type AdapterStatus struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	State        State     `json:"state"`
	LastPoll     time.Time `json:"last_poll"`
	ErrorCount   int64     `json:"error_count"`
	BindingCount int       `json:"binding_count"`
	Addresses    []string  `json:"addresses"`
	LastError    string    `json:"last_error,omitempty"`
	Writes       int64     `json:"writes"`
	WriteErrors  int64     `json:"write_errors"`
	LastWrite    time.Time `json:"last_write"`
}

// Snapshot of adapter and item state.
type Snapshot struct {
	Adapters []AdapterStatus `json:"adapters"`
	Items    []items.State   `json:"items"`
}

// Status returns a snapshot of every adapter instance and every item value.
// It only reads.
func (self *Engine) Status() Snapshot {
	snap := Snapshot{Items: self.registry.States()}
	for _, inst := range self.Instances() {
		snap.Adapters = append(snap.Adapters, inst.Status())
	}
	return snap
}

func (inst *Instance) Status() AdapterStatus {
	var described []string
	if inst.Adapter != nil {
		described = inst.Adapter.DescribeBindings()
	}
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return AdapterStatus{
		ID:           inst.ID,
		Type:         inst.Type,
		State:        inst.state,
		LastPoll:     inst.lastPoll,
		ErrorCount:   inst.errorCount,
		BindingCount: len(inst.bindings),
		Addresses:    described,
		LastError:    inst.lastError,
		Writes:       inst.writeCount,
		WriteErrors:  inst.writeErrors,
		LastWrite:    inst.lastWrite,
	}
}

// Health is the aggregate state for monitoring.
type Health struct {
	Status    string    `json:"status"` // healthy, degraded or unhealthy
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Adapters  int       `json:"adapters"`
	Degraded  []string  `json:"degraded,omitempty"`
	Stopped   []string  `json:"stopped,omitempty"`
}

// Health is healthy while every adapter is starting or connected, unhealthy
// when none is, and degraded otherwise.
func (self *Engine) Health() Health {
	h := Health{Timestamp: time.Now()}
	ok := 0
	for _, inst := range self.Instances() {
		h.Adapters++
		switch inst.State() {
		case StateDegraded:
			h.Degraded = append(h.Degraded, inst.ID)
		case StateStopped:
			h.Stopped = append(h.Stopped, inst.ID)
		default:
			ok++
		}
	}
	switch {
	case ok == h.Adapters:
		h.Status = "healthy"
		h.Healthy = true
	case ok == 0:
		h.Status = "unhealthy"
		h.Message = "no adapter is running"
	default:
		h.Status = "degraded"
		h.Message = "some adapters are not running"
	}
	return h
}
