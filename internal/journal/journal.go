// Package journal records pipeline progress events: an in-memory pub/sub
// with bounded replay for live subscribers, and an optional Redis stream
// writer for durable run journals.
package journal

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted by the pipeline.
const (
	EventPlanBuilt         = "plan_built"
	EventSubtaskStarted    = "subtask_started"
	EventSubtaskCompleted  = "subtask_completed"
	EventSubtaskDegraded   = "subtask_degraded"
	EventDialogueTurn      = "dialogue_turn"
	EventSynthesisStarted  = "synthesis_started"
	EventFlagsRaised       = "flags_raised"
	EventFlagsResolved     = "flags_resolved"
	EventPipelineCompleted = "pipeline_completed"
	EventConsensusJoined   = "consensus_joined"
)

// Event is one progress record scoped to a workflow id.
type Event struct {
	WorkflowID   string    `json:"workflow_id"`
	Type         string    `json:"type"`
	SubtaskID    int       `json:"subtask_id,omitempty"`
	SpecialistID string    `json:"specialist_id,omitempty"`
	Turn         int       `json:"turn,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Seq          uint64    `json:"seq"`
}

// Marshal returns the JSON encoding for stream payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub of events per workflow id with a
// per-workflow ring buffer for replay.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager builds a manager whose replay rings hold capacity events each.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a workflow id; the caller must
// drain it and call Unsubscribe.
func (m *Manager) Subscribe(workflowID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(workflowID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[workflowID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, workflowID)
		}
	}
}

// Publish assigns the event a sequence number, stores it for replay, and
// fans it out to subscribers without blocking; slow subscribers drop events.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	rg := m.history[evt.WorkflowID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.WorkflowID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[evt.WorkflowID]
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// ring capacity.
func (m *Manager) ReplaySince(workflowID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[workflowID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

func unmarshalEvent(data []byte, evt *Event) error {
	return json.Unmarshal(data, evt)
}
