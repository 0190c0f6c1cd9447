// Package progress fans task progress events out to any number of
// subscribers without letting a slow subscriber stall the publisher.
package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names an event on the wire.
type EventType string

const (
	EventProgress EventType = "progress-update"
	EventComplete EventType = "task-complete"
)

// Task statuses carried by task-complete events and TaskState.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Event is one progress notification for a task.
type Event struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"taskId"`
	Phase      string    `json:"phase,omitempty"`
	Message    string    `json:"message,omitempty"`
	Step       *int      `json:"step,omitempty"`
	TotalSteps *int      `json:"totalSteps,omitempty"`
	Plan       any       `json:"plan,omitempty"`
	Status     string    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Update builds a progress-update event.
func Update(taskID, phase, message string) Event {
	return Event{Type: EventProgress, TaskID: taskID, Phase: phase, Message: message}
}

// WithStep sets the step counters on a progress-update.
func (e Event) WithStep(step, total int) Event {
	e.Step, e.TotalSteps = &step, &total
	return e
}

// Complete builds a task-complete event. A nil err means success.
func Complete(taskID string, err error) Event {
	e := Event{Type: EventComplete, TaskID: taskID, Status: StatusCompleted}
	if err != nil {
		e.Status = StatusError
		e.Error = err.Error()
	}
	return e
}

// TaskState is the latest known state of a task.
type TaskState struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Phase      string    `json:"phase,omitempty"`
	Message    string    `json:"message,omitempty"`
	Step       int       `json:"currentStep"`
	TotalSteps int       `json:"totalSteps"`
	Error      string    `json:"error,omitempty"`
	StartTime  time.Time `json:"startTime"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DefaultBuffer is the per-subscriber queue length used when Subscribe is
// given a non-positive size.
const DefaultBuffer = 64

// DefaultMaxTasks is the number of task states a bus retains unless
// WithMaxTasks says otherwise.
const DefaultMaxTasks = 1024

// Bus delivers published events to subscribers. Each subscriber has a
// bounded queue; when it is full the event is dropped for that subscriber
// only.
//
// The task table is bounded too: once it holds more than maxTasks entries,
// the longest-finished tasks are forgotten. Running tasks are never evicted.
type Bus struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	tasks    map[string]*TaskState
	finished []string // completed task ids, oldest first
	maxTasks int
	closed   bool
	now      func() time.Time
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithMaxTasks caps the task table. Non-positive values keep the default.
func WithMaxTasks(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.maxTasks = n
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:     make(map[*Subscription]struct{}),
		tasks:    make(map[string]*TaskState),
		maxTasks: DefaultMaxTasks,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription receives the events for one task, or all tasks when its
// task id is empty.
type Subscription struct {
	bus       *Bus
	taskID    string
	ch        chan Event
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Subscribe registers a subscriber. Subscribing to a closed bus returns a
// subscription whose channel is already closed.
func (b *Bus) Subscribe(taskID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{bus: b, taskID: taskID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeOnce.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Events returns the subscriber's queue. It is closed by Close or when the
// bus closes.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped counts events discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes. Safe to call multiple times.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.closeOnce.Do(func() { close(s.ch) })
}

// Publish records e in the task table and offers it to every matching
// subscriber. It never blocks. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.record(e)
	b.mu.Unlock()

	// Holding the read lock keeps Close/unsubscribe from closing a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.taskID != "" && s.taskID != e.TaskID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// record updates the task table. Caller holds b.mu.
func (b *Bus) record(e Event) {
	t, ok := b.tasks[e.TaskID]
	if !ok {
		t = &TaskState{ID: e.TaskID, Status: StatusRunning, StartTime: e.Timestamp}
		b.tasks[e.TaskID] = t
	}
	t.UpdatedAt = e.Timestamp
	switch e.Type {
	case EventProgress:
		t.Phase = e.Phase
		t.Message = e.Message
		if e.Step != nil {
			t.Step = *e.Step
		}
		if e.TotalSteps != nil {
			t.TotalSteps = *e.TotalSteps
		}
	case EventComplete:
		if t.Status == StatusRunning {
			b.finished = append(b.finished, e.TaskID)
		}
		t.Status = e.Status
		t.Error = e.Error
		b.evict()
	}
}

// evict drops finished tasks, oldest first, until the table fits. Caller
// holds b.mu.
func (b *Bus) evict() {
	for len(b.tasks) > b.maxTasks && len(b.finished) > 0 {
		delete(b.tasks, b.finished[0])
		b.finished[0] = ""
		b.finished = b.finished[1:]
	}
}

// Task returns the latest state of a task.
func (b *Bus) Task(id string) (TaskState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *t, true
}

// Close closes every subscription. Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closeOnce.Do(func() { close(s.ch) })
	}
	b.subs = nil
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
