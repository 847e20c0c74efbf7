package execution

import (
	"sync"
	"time"

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/domain/types"
)

// EventType categorizes run events.
type EventType string

const (
	// EventRunStarted is emitted once the execution order is known.
	EventRunStarted EventType = "run.started"
	// EventRunCompleted is emitted when the report is final, whatever its status.
	EventRunCompleted EventType = "run.completed"

	EventNodeStarted   EventType = "node.started"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
	EventNodeSkipped   EventType = "node.skipped"
	EventNodeCancelled EventType = "node.cancelled"
)

// Event is a point-in-time notification about a run.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	RunID      types.RunID
	WorkflowID types.WorkflowID
	// NodeID and NodeType are empty for run events.
	NodeID   types.NodeID
	NodeType string
	// NodeStatus is set for node events, RunStatus for run.completed.
	NodeStatus domain.NodeStatus
	RunStatus  domain.RunStatus
	Output     map[string]any
	Error      error
	DurationMs int64
	// TotalNodes is set on run.started.
	TotalNodes int
}

// Observer receives events synchronously from the run's coordinating
// goroutine. It must not block.
type Observer func(Event)

// EventFilter selects events. Empty fields match everything.
type EventFilter struct {
	EventTypes []EventType
	NodeIDs    []types.NodeID
}

// Matches reports whether event passes the filter.
func (f *EventFilter) Matches(event Event) bool {
	if len(f.EventTypes) > 0 {
		matched := false
		for _, t := range f.EventTypes {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.NodeIDs) > 0 {
		if event.NodeID == "" {
			return false
		}
		matched := false
		for _, id := range f.NodeIDs {
			if event.NodeID == id {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Progress summarizes a run from the events seen so far.
type Progress struct {
	TotalNodes      int
	CompletedNodes  int
	FailedNodes     int
	SkippedNodes    int
	CancelledNodes  int
	RunningNodes    int
	PercentComplete float64
}

type subscription struct {
	ch     chan Event
	filter *EventFilter
}

// Monitor fans events out to channel subscribers and tracks progress. Its
// Observe method is an Observer; pass it to WithObserver.
//
// Emission never blocks: a subscriber whose buffer is full misses events.
type Monitor struct {
	mu          sync.RWMutex
	subscribers []*subscription
	closed      bool

	total   int
	running map[types.NodeID]bool
	counts  map[domain.NodeStatus]int
}

// NewMonitor returns a monitor with no subscribers.
func NewMonitor() *Monitor {
	return &Monitor{
		running: make(map[types.NodeID]bool),
		counts:  make(map[domain.NodeStatus]int),
	}
}

// Subscribe returns a channel receiving every event.
func (m *Monitor) Subscribe() <-chan Event {
	return m.subscribe(nil)
}

// SubscribeFiltered returns a channel receiving the events matching filter.
func (m *Monitor) SubscribeFiltered(filter EventFilter) <-chan Event {
	return m.subscribe(&filter)
}

func (m *Monitor) subscribe(filter *EventFilter) <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	ch := make(chan Event, 200)
	m.subscribers = append(m.subscribers, &subscription{ch: ch, filter: filter})
	return ch
}

// Unsubscribe closes and removes a subscription.
func (m *Monitor) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub.ch == ch {
			close(sub.ch)
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

// Observe records event and forwards it to subscribers.
func (m *Monitor) Observe(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.track(event)

	for _, sub := range m.subscribers {
		if sub.filter != nil && !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (m *Monitor) track(event Event) {
	switch event.Type {
	case EventRunStarted:
		m.running = make(map[types.NodeID]bool)
		m.counts = make(map[domain.NodeStatus]int)
		m.total = event.TotalNodes
	case EventNodeStarted:
		m.running[event.NodeID] = true
	case EventNodeCompleted, EventNodeFailed, EventNodeSkipped, EventNodeCancelled:
		delete(m.running, event.NodeID)
		m.counts[event.NodeStatus]++
	}
}

// Progress returns the progress of the current or last run.
func (m *Monitor) Progress() Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := Progress{
		TotalNodes:     m.total,
		CompletedNodes: m.counts[domain.NodeStatusCompleted],
		FailedNodes:    m.counts[domain.NodeStatusFailed],
		SkippedNodes:   m.counts[domain.NodeStatusSkipped],
		CancelledNodes: m.counts[domain.NodeStatusCancelled],
		RunningNodes:   len(m.running),
	}
	if p.TotalNodes > 0 {
		done := p.CompletedNodes + p.FailedNodes + p.SkippedNodes + p.CancelledNodes
		p.PercentComplete = float64(done) / float64(p.TotalNodes) * 100.0
	}
	return p
}

// Close closes every subscriber channel. Later events are dropped.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for _, sub := range m.subscribers {
		close(sub.ch)
	}
	m.subscribers = nil
}
