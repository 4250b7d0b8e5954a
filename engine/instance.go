package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/lib/worker"
)

// State of an adapter instance.
type State int

const (
	StateStarting State = iota
	StateConnected
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "stopped"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Instance is one configured adapter together with its bindings and poll
// bookkeeping.
type Instance struct {
	ID      string
	Type    string
	Conf    config.AdapterConf
	Adapter adapters.Adapter

	// held for the duration of a poll or a batch of pushed readings
	lock sync.Mutex
	// serialises Connect between polls and writes
	connMu sync.Mutex

	schedule  cron.Schedule
	bindings  []*binder.Binding
	byAddress map[string][]*binder.Binding
	writes    *worker.Pool[writeRequest]
	cancel    context.CancelFunc

	mu          sync.RWMutex
	state       State
	connected   bool
	lastPoll    time.Time
	errorCount  int64
	lastError   string
	writeCount  int64
	writeErrors int64
	lastWrite   time.Time
}

func (inst *Instance) writeQueue() *worker.Pool[writeRequest] {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.writes
}

func (inst *Instance) taskName() string {
	return "poll." + inst.ID
}

func (inst *Instance) State() State {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.state
}

func (inst *Instance) setState(state State) {
	inst.mu.Lock()
	inst.state = state
	inst.mu.Unlock()
}

func (inst *Instance) ErrorCount() int64 {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.errorCount
}

func (inst *Instance) LastPoll() time.Time {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.lastPoll
}

// Bindings accepted by the adapter.
func (inst *Instance) Bindings() []*binder.Binding {
	return append([]*binder.Binding(nil), inst.bindings...)
}

func (inst *Instance) index(bindings []*binder.Binding) {
	inst.bindings = bindings
	inst.byAddress = map[string][]*binder.Binding{}
	for _, b := range bindings {
		if b.Direction.CanRead() {
			inst.byAddress[b.Address] = append(inst.byAddress[b.Address], b)
		}
	}
}

// pollTimeout is the cycle less a margin of a tenth of the cycle, at most a
// second. Cron instances use the time until the next match.
func (inst *Instance) pollTimeout(now time.Time) time.Duration {
	cycle := inst.Conf.Cycle.Duration
	if inst.schedule != nil {
		cycle = inst.schedule.Next(now).Sub(now)
	}
	if cycle <= 0 {
		cycle = config.DefaultCycle
	}
	epsilon := cycle / 10
	if epsilon > time.Second {
		epsilon = time.Second
	}
	return cycle - epsilon
}

func (inst *Instance) ensureConnected(ctx context.Context) error {
	inst.connMu.Lock()
	defer inst.connMu.Unlock()
	inst.mu.RLock()
	connected := inst.connected
	inst.mu.RUnlock()
	if connected {
		return nil
	}
	if err := inst.Adapter.Connect(ctx); err != nil {
		return err
	}
	inst.mu.Lock()
	inst.connected = true
	if inst.state == StateStarting {
		inst.state = StateConnected
	}
	inst.mu.Unlock()
	return nil
}

func (inst *Instance) disconnect() error {
	inst.connMu.Lock()
	defer inst.connMu.Unlock()
	inst.mu.Lock()
	inst.connected = false
	if inst.state == StateConnected {
		inst.state = StateStarting
	}
	inst.mu.Unlock()
	return inst.Adapter.Disconnect()
}
