package events

import (
	"sync"
	"time"
)

type Type string

const (
	EventPacketLoss     Type = "packet_loss"
	EventQueueOverflow  Type = "queue_overflow"
	EventSessionCreated Type = "session_created"
	EventSessionEvicted Type = "session_evicted"
	EventSessionReject  Type = "session_rejected"
)

type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Client    string    `json:"client,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

type Recorder interface {
	Record(event Event)
}

type NoopRecorder struct{}

func (NoopRecorder) Record(event Event) {}

type Multi struct {
	recorders []Recorder
}

func NewMulti(recorders ...Recorder) Multi {
	return Multi{recorders: recorders}
}

func (m Multi) Record(event Event) {
	for _, rec := range m.recorders {
		if rec != nil {
			rec.Record(event)
		}
	}
}

// Ring keeps the most recent events in a fixed-size buffer for diagnostics.
type Ring struct {
	mu       sync.Mutex
	capacity int
	items    []Event
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &Ring{capacity: capacity}
}

func (r *Ring) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) >= r.capacity {
		r.items = r.items[1:]
	}
	r.items = append(r.items, event)
}

func (r *Ring) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.items))
	copy(out, r.items)
	return out
}
