// Package scheduler runs named tasks at a fixed cycle or on a cron schedule.
//
// Tasks run on a fixed size worker pool. A task never overlaps itself: a tick
// that arrives while the previous invocation is still running is skipped with a
// warning rather than queued. When several tasks are due at once the ones with
// higher priority are handed to the pool first.
package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/lib/worker"
	"github.com/shng-go/shng/util"
)

// Task is invoked on every tick. ctx is cancelled when the task is removed or
// the scheduler stops.
type Task func(ctx context.Context)

type Options struct {
	// Cycle is the minimum interval between two invocations.
	Cycle time.Duration
	// Cron takes precedence over Cycle. Five fields, six with seconds, or a
	// descriptor such as @hourly or @every 10s.
	Cron     string
	Priority int
	// Offset delays the first run. Without it the first run is one cycle
	// (or the next cron match) after Add.
	Offset time.Duration
}

const MinWorkers = 4

var ErrDuplicate = errors.New("task already scheduled")

var ErrNotFound = errors.New("no such task")

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, errors.Config("scheduler.ParseCron", errors.Wrapf(err, "cron %q", spec))
	}
	return schedule, nil
}

type entry struct {
	name     string
	task     Task
	opts     Options
	schedule cron.Schedule
	phase    time.Duration

	next      time.Time
	index     int
	cancelled bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running int32
	runs    int64
	skipped int64
	last    time.Time
}

// earliest is the first instant a cycle task may start again. It is zero for
// cron tasks and tasks that never ran.
func (e *entry) earliest() time.Time {
	if e.schedule != nil || e.last.IsZero() {
		return time.Time{}
	}
	return e.last.Add(e.opts.Cycle)
}

func (e *entry) nextAfter(now time.Time) time.Time {
	if e.schedule != nil {
		return e.schedule.Next(now)
	}
	next := e.next.Add(e.opts.Cycle)
	if !next.After(now) {
		// fell behind: keep the original phase
		next = util.NextSchedule(now, e.phase, e.opts.Cycle)
	}
	return next
}

type Scheduler struct {
	log     *zap.SugaredLogger
	workers int

	mu      sync.Mutex
	tasks   map[string]*entry
	queue   queue
	pool    *worker.Pool[*entry]
	ctx     context.Context
	stop    context.CancelFunc
	wake    chan struct{}
	done    chan struct{}
	started bool
}

// New creates a scheduler with a pool of the given size. workers <= 0 sizes the
// pool from the number of tasks added before Start (one worker per four tasks,
// at least MinWorkers).
func New(log *zap.SugaredLogger, workers int) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scheduler{
		log:     log,
		workers: workers,
		tasks:   map[string]*entry{},
		wake:    make(chan struct{}, 1),
	}
}

// Add schedules a task.
func (s *Scheduler) Add(name string, task Task, opts Options) error {
	e := &entry{name: name, task: task, opts: opts}
	if opts.Cron != "" {
		schedule, err := ParseCron(opts.Cron)
		if err != nil {
			return err
		}
		e.schedule = schedule
	} else if opts.Cycle <= 0 {
		return errors.Configf("scheduler.Add", "task %s: cycle or cron required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return errors.Wrap(ErrDuplicate, name)
	}
	now := time.Now()
	switch {
	case opts.Offset > 0:
		e.next = now.Add(opts.Offset)
	case e.schedule != nil:
		e.next = e.schedule.Next(now)
	default:
		e.next = now.Add(opts.Cycle)
	}
	if opts.Cycle > 0 {
		e.phase = e.next.Sub(e.next.Truncate(opts.Cycle))
	}
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(parent)
	s.tasks[name] = e
	heap.Push(&s.queue, e)
	s.poke()
	return nil
}

// Cancel stops future ticks of a task without waiting for a running invocation.
// It is safe to call from inside the task.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(name) != nil
}

func (s *Scheduler) cancelLocked(name string) *entry {
	e := s.tasks[name]
	if e == nil {
		return nil
	}
	e.cancelled = true
	if e.index >= 0 {
		heap.Remove(&s.queue, e.index)
	}
	delete(s.tasks, name)
	return e
}

// Remove cancels a task and waits for a running invocation to return. It must
// not be called from inside the task itself.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	e := s.cancelLocked(name)
	s.mu.Unlock()
	if e == nil {
		return errors.Wrap(ErrNotFound, name)
	}
	e.cancel()
	e.wg.Wait()
	return nil
}

// Trigger runs a task as soon as possible, but never sooner than one cycle
// after its previous start. The run is still skipped if the task is already
// running.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.tasks[name]
	if e == nil {
		return errors.Wrap(ErrNotFound, name)
	}
	e.next = time.Now()
	if t := e.earliest(); t.After(e.next) {
		e.next = t
	}
	heap.Fix(&s.queue, e.index)
	s.poke()
	return nil
}

// Start the scheduler loop and the worker pool.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return worker.ErrPoolAlreadyStarted
	}
	workers := s.workers
	if workers <= 0 {
		workers = (len(s.tasks) + 3) / 4
		if workers < MinWorkers {
			workers = MinWorkers
		}
	}
	s.ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.pool = worker.NewPool(workers, 0, s.run)
	// the pool drains until Stop so that every submitted entry is released
	if err := s.pool.Start(context.Background()); err != nil {
		return err
	}
	// tasks added before start are tied to the scheduler context from now on
	for _, e := range s.tasks {
		e := e
		go func() {
			select {
			case <-s.ctx.Done():
				e.cancel()
			case <-e.ctx.Done():
			}
		}()
	}
	s.started = true
	go s.loop()
	s.log.Infow("Scheduler started", "workers", workers, "tasks", len(s.tasks))
	return nil
}

// Stop cancels all tasks and waits for running invocations.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.stop()
	var entries []*entry
	for name := range s.tasks {
		entries = append(entries, s.cancelLocked(name))
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
	<-s.done
	if err := s.pool.Stop(10 * time.Second); err != nil {
		s.log.Warnw("Stopping worker pool", "error", err)
	}
	for _, e := range entries {
		e.wg.Wait()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		wait := s.dispatchDue(time.Now())
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchDue submits every due task, highest priority first, reschedules
// them and returns the time until the next task is due.
func (s *Scheduler) dispatchDue(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*entry
	for s.queue.Len() > 0 && !s.queue[0].next.After(now) {
		due = append(due, heap.Pop(&s.queue).(*entry))
	}
	sort.SliceStable(due, func(a, b int) bool {
		return due[a].opts.Priority > due[b].opts.Priority
	})
	for _, e := range due {
		s.submit(e)
		e.next = e.nextAfter(now)
		heap.Push(&s.queue, e)
	}
	if s.queue.Len() == 0 {
		return time.Hour
	}
	return s.queue[0].next.Sub(now)
}

func (s *Scheduler) submit(e *entry) {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		atomic.AddInt64(&e.skipped, 1)
		s.log.Warnw("Task still running, skipping tick", "task", e.name)
		return
	}
	e.wg.Add(1)
	if err := s.pool.Submit(e); err != nil {
		atomic.StoreInt32(&e.running, 0)
		e.wg.Done()
		atomic.AddInt64(&e.skipped, 1)
		s.log.Warnw("Task not submitted", "task", e.name, "error", err)
	}
}

func (s *Scheduler) run(_ context.Context, e *entry) error {
	defer func() {
		atomic.StoreInt32(&e.running, 0)
		e.wg.Done()
	}()
	if e.ctx.Err() != nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Task panicked", "task", e.name, "panic", r)
		}
	}()
	s.mu.Lock()
	e.last = time.Now()
	// a run delayed by the pool pushes the next tick back
	if t := e.earliest(); e.index >= 0 && e.next.Before(t) {
		e.next = t
		heap.Fix(&s.queue, e.index)
	}
	s.mu.Unlock()
	atomic.AddInt64(&e.runs, 1)
	e.task(e.ctx)
	return nil
}

// TaskInfo describes a scheduled task.
type TaskInfo struct {
	Name     string    `json:"name"`
	Next     time.Time `json:"next"`
	Last     time.Time `json:"last"`
	Runs     int64     `json:"runs"`
	Skipped  int64     `json:"skipped"`
	Running  bool      `json:"running"`
	Priority int       `json:"priority"`
}

// Tasks lists the scheduled tasks by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]TaskInfo, 0, len(s.tasks))
	for _, name := range util.SortedKeys(s.tasks) {
		e := s.tasks[name]
		ret = append(ret, TaskInfo{
			Name:     e.name,
			Next:     e.next,
			Last:     e.last,
			Runs:     atomic.LoadInt64(&e.runs),
			Skipped:  atomic.LoadInt64(&e.skipped),
			Running:  atomic.LoadInt32(&e.running) == 1,
			Priority: e.opts.Priority,
		})
	}
	return ret
}

// queue is a heap of entries ordered by due time, then priority.
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(a, b int) bool {
	if q[a].next.Equal(q[b].next) {
		return q[a].opts.Priority > q[b].opts.Priority
	}
	return q[a].next.Before(q[b].next)
}

func (q queue) Swap(a, b int) {
	q[a], q[b] = q[b], q[a]
	q[a].index = a
	q[b].index = b
}

func (q *queue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}
