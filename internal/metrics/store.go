package metrics

import (
	"sync/atomic"
)

// Direction names one of the two relay paths for per-direction metrics.
type Direction string

const (
	ToServer Direction = "to_server"
	ToClient Direction = "to_client"
)

// Store maintains in-memory gauges and counters for relay telemetry.
type Store struct {
	received  [2]atomic.Uint64
	relayed   [2]atomic.Uint64
	lossDrops [2]atomic.Uint64
	overflows [2]atomic.Uint64
	depth     [2]atomic.Int64

	rateDrops  atomic.Uint64
	staleDrops atomic.Uint64
	sendErrors atomic.Uint64
	recvErrors atomic.Uint64

	activeSessions   atomic.Int64
	sessionsCreated  atomic.Uint64
	sessionsEvicted  atomic.Uint64
	sessionsRejected atomic.Uint64
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	return &Store{}
}

func index(dir Direction) int {
	if dir == ToClient {
		return 1
	}
	return 0
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	ReceivedToServer  uint64
	ReceivedToClient  uint64
	RelayedToServer   uint64
	RelayedToClient   uint64
	LossDropsToServer uint64
	LossDropsToClient uint64
	OverflowsToServer uint64
	OverflowsToClient uint64
	DepthToServer     int64
	DepthToClient     int64
	RateDrops         uint64
	StaleDrops        uint64
	SendErrors        uint64
	RecvErrors        uint64
	ActiveSessions    int64
	SessionsCreated   uint64
	SessionsEvicted   uint64
	SessionsRejected  uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		ReceivedToServer:  s.received[0].Load(),
		ReceivedToClient:  s.received[1].Load(),
		RelayedToServer:   s.relayed[0].Load(),
		RelayedToClient:   s.relayed[1].Load(),
		LossDropsToServer: s.lossDrops[0].Load(),
		LossDropsToClient: s.lossDrops[1].Load(),
		OverflowsToServer: s.overflows[0].Load(),
		OverflowsToClient: s.overflows[1].Load(),
		DepthToServer:     s.depth[0].Load(),
		DepthToClient:     s.depth[1].Load(),
		RateDrops:         s.rateDrops.Load(),
		StaleDrops:        s.staleDrops.Load(),
		SendErrors:        s.sendErrors.Load(),
		RecvErrors:        s.recvErrors.Load(),
		ActiveSessions:    s.activeSessions.Load(),
		SessionsCreated:   s.sessionsCreated.Load(),
		SessionsEvicted:   s.sessionsEvicted.Load(),
		SessionsRejected:  s.sessionsRejected.Load(),
	}
}

// QueueRecorder is implemented by sinks observing delay-queue activity.
type QueueRecorder interface {
	ObserveDepth(depth int)
	IncLossDrop()
	IncOverflow()
}

// QueueRecorder returns a QueueRecorder backed by the store for one direction.
func (s *Store) QueueRecorder(dir Direction) QueueRecorder {
	return queueRecorder{store: s, idx: index(dir)}
}

type queueRecorder struct {
	store *Store
	idx   int
}

func (r queueRecorder) ObserveDepth(depth int) {
	r.store.depth[r.idx].Store(int64(depth))
}

func (r queueRecorder) IncLossDrop() {
	r.store.lossDrops[r.idx].Add(1)
}

func (r queueRecorder) IncOverflow() {
	r.store.overflows[r.idx].Add(1)
}

// SessionRecorder is implemented by sinks observing session lifecycle.
type SessionRecorder interface {
	ObserveActive(count int)
	IncCreated()
	IncEvicted()
	IncRejected()
}

// SessionRecorder returns a SessionRecorder backed by the store.
func (s *Store) SessionRecorder() SessionRecorder {
	return sessionRecorder{store: s}
}

type sessionRecorder struct {
	store *Store
}

func (r sessionRecorder) ObserveActive(count int) {
	r.store.activeSessions.Store(int64(count))
}

func (r sessionRecorder) IncCreated() {
	r.store.sessionsCreated.Add(1)
}

func (r sessionRecorder) IncEvicted() {
	r.store.sessionsEvicted.Add(1)
}

func (r sessionRecorder) IncRejected() {
	r.store.sessionsRejected.Add(1)
}

// RelayRecorder is implemented by sinks observing relay traffic.
type RelayRecorder interface {
	IncReceived(dir Direction)
	IncRelayed(dir Direction)
	IncRateDrop()
	IncStaleDrop()
	IncSendError()
	IncRecvError()
}

// RelayRecorder returns a RelayRecorder backed by the store.
func (s *Store) RelayRecorder() RelayRecorder {
	return relayRecorder{store: s}
}

type relayRecorder struct {
	store *Store
}

func (r relayRecorder) IncReceived(dir Direction) {
	r.store.received[index(dir)].Add(1)
}

func (r relayRecorder) IncRelayed(dir Direction) {
	r.store.relayed[index(dir)].Add(1)
}

func (r relayRecorder) IncRateDrop() {
	r.store.rateDrops.Add(1)
}

func (r relayRecorder) IncStaleDrop() {
	r.store.staleDrops.Add(1)
}

func (r relayRecorder) IncSendError() {
	r.store.sendErrors.Add(1)
}

func (r relayRecorder) IncRecvError() {
	r.store.recvErrors.Add(1)
}
