package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fakelaghq/fakelag/internal/events"
	"github.com/fakelaghq/fakelag/internal/metrics"
)

// ErrLimitReached reports that the registry refused to create a session
// because the configured cap on concurrent sessions was hit.
var ErrLimitReached = errors.New("session limit reached")

// Session binds a client address to the dedicated outbound socket used for
// that client's traffic toward the remote target. The dedicated socket is
// what makes reply routing unambiguous: whatever arrives on it belongs to
// exactly this client.
type Session struct {
	ID         string
	ClientAddr *net.UDPAddr
	Conn       *net.UDPConn

	lastSeen atomic.Int64
}

// Touch records activity so the idle sweep keeps the session alive.
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the time of the most recent activity on the session.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Registry maps client addresses to their sessions. All mutation happens
// under one mutex; socket creation is the only slow call on the insert path
// and binds an ephemeral local port.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time
	dial        func() (*net.UDPConn, error)
	metrics     metrics.SessionRecorder
	events      events.Recorder
}

type Option func(*Registry)

// WithMaxSessions caps concurrent sessions; zero or negative means no cap.
func WithMaxSessions(n int) Option {
	return func(r *Registry) {
		r.maxSessions = n
	}
}

func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDialer overrides how outbound sockets are created. Tests use this to
// observe socket lifecycle.
func WithDialer(dial func() (*net.UDPConn, error)) Option {
	return func(r *Registry) {
		if dial != nil {
			r.dial = dial
		}
	}
}

func WithMetricsRecorder(rec metrics.SessionRecorder) Option {
	return func(r *Registry) {
		r.metrics = rec
	}
}

func WithEventRecorder(rec events.Recorder) Option {
	return func(r *Registry) {
		r.events = rec
	}
}

const DefaultIdleTimeout = 2 * time.Minute

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		dial: func() (*net.UDPConn, error) {
			return net.ListenUDP("udp", nil)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the session for clientAddr, creating it (and binding a
// fresh outbound socket) on first sight. The created flag tells the caller
// whether a receiver loop still needs to be started for the session.
func (r *Registry) GetOrCreate(clientAddr *net.UDPAddr) (*Session, bool, error) {
	key := clientAddr.String()
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[key]; ok {
		sess.Touch(now)
		return sess, false, nil
	}

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.recordReject(key)
		return nil, false, fmt.Errorf("client %s: %w", key, ErrLimitReached)
	}

	conn, err := r.dial()
	if err != nil {
		return nil, false, fmt.Errorf("bind outbound socket for %s: %w", key, err)
	}

	sess := &Session{
		ID:         uuid.NewString(),
		ClientAddr: clientAddr,
		Conn:       conn,
	}
	sess.Touch(now)
	r.sessions[key] = sess
	r.observeActiveLocked()
	if r.metrics != nil {
		r.metrics.IncCreated()
	}
	if r.events != nil {
		r.events.Record(events.Event{
			Type:      events.EventSessionCreated,
			Timestamp: time.Now().UTC(),
			Client:    key,
			Detail:    sess.ID,
		})
	}
	return sess, true, nil
}

// Lookup returns the session for clientAddr without creating one.
func (r *Registry) Lookup(clientAddr *net.UDPAddr) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[clientAddr.String()]
	return sess, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle removes sessions inactive for longer than the idle timeout and
// closes their sockets, which unblocks their receiver loops. Returns the
// evicted sessions.
func (r *Registry) EvictIdle(now time.Time) []*Session {
	cutoff := now.Add(-r.idleTimeout)

	r.mu.Lock()
	var evicted []*Session
	for key, sess := range r.sessions {
		if sess.LastSeen().Before(cutoff) {
			delete(r.sessions, key)
			evicted = append(evicted, sess)
		}
	}
	if evicted != nil {
		r.observeActiveLocked()
	}
	r.mu.Unlock()

	for _, sess := range evicted {
		_ = sess.Conn.Close()
		if r.metrics != nil {
			r.metrics.IncEvicted()
		}
		if r.events != nil {
			r.events.Record(events.Event{
				Type:      events.EventSessionEvicted,
				Timestamp: time.Now().UTC(),
				Client:    sess.ClientAddr.String(),
				Detail:    sess.ID,
			})
		}
	}
	return evicted
}

// CloseAll drops every session and closes its socket. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.observeActiveLocked()
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Conn.Close()
	}
}

func (r *Registry) IdleTimeout() time.Duration {
	return r.idleTimeout
}

func (r *Registry) observeActiveLocked() {
	if r.metrics != nil {
		r.metrics.ObserveActive(len(r.sessions))
	}
}

func (r *Registry) recordReject(key string) {
	if r.metrics != nil {
		r.metrics.IncRejected()
	}
	if r.events != nil {
		r.events.Record(events.Event{
			Type:      events.EventSessionReject,
			Timestamp: time.Now().UTC(),
			Client:    key,
		})
	}
}
