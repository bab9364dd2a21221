package delayqueue

import (
	"container/heap"
	"net"
	"sync"
	"time"

	"github.com/fakelaghq/fakelag/internal/events"
	"github.com/fakelaghq/fakelag/internal/metrics"
	"github.com/fakelaghq/fakelag/internal/netcond"
)

// Packet is a datagram held until its scheduled release time. Client is the
// routing token: for server-bound traffic it identifies the session whose
// outbound socket carries the send, for client-bound traffic it is the
// destination address itself.
type Packet struct {
	Payload   []byte
	Client    *net.UDPAddr
	ReleaseAt time.Time

	seq uint64
}

// Queue holds delayed packets for one relay direction and releases them in
// ascending ReleaseAt order. Jitter can schedule a later-enqueued packet
// before an earlier one, so ordering comes from a min-heap keyed by release
// time, not from insertion order.
type Queue struct {
	sampler *netcond.Sampler

	mu       sync.Mutex
	items    packetHeap
	stopped  bool
	nextSeq  uint64
	maxDepth int

	now     func() time.Time
	metrics metrics.QueueRecorder
	events  events.Recorder
}

type Option func(*Queue)

func WithNow(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithMaxDepth caps the number of buffered packets; packets arriving at a
// full queue are rejected. Zero or negative disables the cap.
func WithMaxDepth(n int) Option {
	return func(q *Queue) {
		q.maxDepth = n
	}
}

func WithMetricsRecorder(rec metrics.QueueRecorder) Option {
	return func(q *Queue) {
		q.metrics = rec
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(q *Queue) {
		q.events = rec
	}
}

func New(sampler *netcond.Sampler, opts ...Option) *Queue {
	q := &Queue{
		sampler: sampler,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue applies the loss decision and, if the packet survives, schedules
// it for release after the sampled delay. The payload is copied; callers may
// reuse their receive buffer. Reports whether the packet was accepted.
func (q *Queue) Enqueue(payload []byte, client *net.UDPAddr) bool {
	if q.sampler.Drop() {
		q.recordLoss(client)
		return false
	}
	releaseAt := q.now().Add(q.sampler.Delay())

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		q.recordOverflowLocked(client)
		return false
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	q.nextSeq++
	heap.Push(&q.items, Packet{
		Payload:   buf,
		Client:    client,
		ReleaseAt: releaseAt,
		seq:       q.nextSeq,
	})
	q.observeDepthLocked()
	return true
}

// DrainReady removes and returns every packet whose release time has
// arrived, in ascending ReleaseAt order. Returns nil when none are due.
func (q *Queue) DrainReady() []Packet {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	var due []Packet
	for len(q.items) > 0 && !q.items[0].ReleaseAt.After(now) {
		due = append(due, heap.Pop(&q.items).(Packet))
	}
	if due != nil {
		q.observeDepthLocked()
	}
	return due
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop makes further enqueues no-ops. Buffered packets are not flushed; a
// stopped queue only drains what was already scheduled.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
}

func (q *Queue) recordLoss(client *net.UDPAddr) {
	if q.metrics != nil {
		q.metrics.IncLossDrop()
	}
	if q.events != nil {
		q.events.Record(events.Event{
			Type:      events.EventPacketLoss,
			Timestamp: time.Now().UTC(),
			Client:    client.String(),
		})
	}
}

func (q *Queue) recordOverflowLocked(client *net.UDPAddr) {
	if q.metrics != nil {
		q.metrics.IncOverflow()
	}
	if q.events != nil {
		q.events.Record(events.Event{
			Type:      events.EventQueueOverflow,
			Timestamp: time.Now().UTC(),
			Client:    client.String(),
		})
	}
}

func (q *Queue) observeDepthLocked() {
	if q.metrics != nil {
		q.metrics.ObserveDepth(len(q.items))
	}
}

type packetHeap []Packet

func (h packetHeap) Len() int { return len(h) }

func (h packetHeap) Less(i, j int) bool {
	if h[i].ReleaseAt.Equal(h[j].ReleaseAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].ReleaseAt.Before(h[j].ReleaseAt)
}

func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *packetHeap) Push(x any) {
	*h = append(*h, x.(Packet))
}

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
