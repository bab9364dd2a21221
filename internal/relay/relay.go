// Package relay implements the lag-injection proxy: a client-facing
// receiver, one receiver per client session on the server side, and a drain
// loop that releases delayed packets in both directions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fakelaghq/fakelag/internal/delayqueue"
	"github.com/fakelaghq/fakelag/internal/metrics"
	"github.com/fakelaghq/fakelag/internal/session"
)

const (
	defaultDrainTick   = time.Millisecond
	defaultReadTimeout = 250 * time.Millisecond
	maxDatagram        = 65535
)

// Config carries the addresses the proxy relays between. The queues and the
// registry are injected by the caller, who controls conditions and limits.
type Config struct {
	ListenAddr string
	TargetAddr string
}

type Proxy struct {
	listenAddr *net.UDPAddr
	targetAddr *net.UDPAddr

	serverBound *delayqueue.Queue
	clientBound *delayqueue.Queue
	registry    *session.Registry

	drainTick     time.Duration
	readTimeout   time.Duration
	sweepInterval time.Duration
	limiter       *rate.Limiter
	logger        *log.Logger
	metrics       metrics.RelayRecorder
	onBound       func()

	mu     sync.Mutex
	listen *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

type Option func(*Proxy)

func WithDrainTick(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.drainTick = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.readTimeout = d
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.sweepInterval = d
		}
	}
}

// WithRateLimit caps transmitted packets per second across both directions.
// Over-limit packets are dropped, not queued. Zero disables the cap.
func WithRateLimit(pps int) Option {
	return func(p *Proxy) {
		if pps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(pps), pps)
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(p *Proxy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetricsRecorder(rec metrics.RelayRecorder) Option {
	return func(p *Proxy) {
		p.metrics = rec
	}
}

// WithBoundCallback is invoked once the listening socket is bound. The
// readiness checker hooks in here.
func WithBoundCallback(fn func()) Option {
	return func(p *Proxy) {
		p.onBound = fn
	}
}

func New(cfg Config, serverBound, clientBound *delayqueue.Queue, registry *session.Registry, opts ...Option) (*Proxy, error) {
	listenAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.ListenAddr, err)
	}
	targetAddr, err := net.ResolveUDPAddr("udp", cfg.TargetAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve target address %q: %w", cfg.TargetAddr, err)
	}

	p := &Proxy{
		listenAddr:  listenAddr,
		targetAddr:  targetAddr,
		serverBound: serverBound,
		clientBound: clientBound,
		registry:    registry,
		drainTick:   defaultDrainTick,
		readTimeout: defaultReadTimeout,
		logger:      log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sweepInterval == 0 {
		p.sweepInterval = registry.IdleTimeout() / 4
		if p.sweepInterval < time.Second {
			p.sweepInterval = time.Second
		}
	}
	return p, nil
}

// Start binds the listening socket and launches the receiver, drain, and
// sweep loops. It fails fast if the bind fails and otherwise returns a wait
// function that blocks until every loop has exited.
func (p *Proxy) Start(ctx context.Context) (func(), error) {
	listen, err := net.ListenUDP("udp", p.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("bind listen socket %s: %w", p.listenAddr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.listen = listen
	p.cancel = cancel
	p.mu.Unlock()

	if p.onBound != nil {
		p.onBound()
	}
	p.logger.Printf("relaying %s -> %s", listen.LocalAddr(), p.targetAddr)

	p.wg.Add(3)
	go func() {
		defer p.wg.Done()
		p.clientLoop(runCtx, listen)
	}()
	go func() {
		defer p.wg.Done()
		p.drainLoop(runCtx, listen)
	}()
	go func() {
		defer p.wg.Done()
		p.sweepLoop(runCtx)
	}()

	// Release sockets once the context is gone so blocked reads error out.
	go func() {
		<-runCtx.Done()
		p.Stop()
	}()

	return p.wg.Wait, nil
}

// Run is Start plus wait; it blocks until ctx is canceled.
func (p *Proxy) Run(ctx context.Context) error {
	wait, err := p.Start(ctx)
	if err != nil {
		return err
	}
	wait()
	return nil
}

// Stop is idempotent: it cancels the loops, stops both queues, and closes
// every socket. In-flight delayed packets are discarded, by contract.
func (p *Proxy) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		listen := p.listen
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		p.serverBound.Stop()
		p.clientBound.Stop()
		if listen != nil {
			_ = listen.Close()
		}
		p.registry.CloseAll()
	})
}

// LocalAddr returns the bound listening address, or nil before Start.
func (p *Proxy) LocalAddr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listen == nil {
		return nil
	}
	return p.listen.LocalAddr()
}

// clientLoop accepts datagrams from clients, lazily establishes their
// sessions, and feeds the server-bound queue.
func (p *Proxy) clientLoop(ctx context.Context, listen *net.UDPConn) {
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = listen.SetReadDeadline(time.Now().Add(p.readTimeout))
		n, clientAddr, err := listen.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() == nil {
				p.logger.Printf("client receive: %v", err)
				p.incRecvError()
			}
			return
		}
		p.incReceived(metrics.ToServer)

		sess, created, err := p.registry.GetOrCreate(clientAddr)
		if err != nil {
			if errors.Is(err, session.ErrLimitReached) {
				p.logger.Printf("rejecting %s: %v", clientAddr, err)
			} else {
				p.logger.Printf("session for %s: %v", clientAddr, err)
			}
			continue
		}
		if created {
			p.logger.Printf("session %s for client %s via %s", sess.ID, clientAddr, sess.Conn.LocalAddr())
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.sessionLoop(ctx, sess)
			}()
		}

		p.serverBound.Enqueue(buf[:n], clientAddr)
	}
}

// sessionLoop reads replies from the remote target on one session's
// dedicated socket and feeds the client-bound queue. A failure here is
// isolated to its session.
func (p *Proxy) sessionLoop(ctx context.Context, sess *session.Session) {
	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = sess.Conn.SetReadDeadline(time.Now().Add(p.readTimeout))
		n, fromAddr, err := sess.Conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if _, ok := p.registry.Lookup(sess.ClientAddr); !ok {
				// Evicted; the sweep closed the socket under us.
				return
			}
			p.logger.Printf("session %s receive: %v", sess.ID, err)
			p.incRecvError()
			return
		}
		if !fromAddr.IP.Equal(p.targetAddr.IP) || fromAddr.Port != p.targetAddr.Port {
			// Not the target; this socket only talks to one peer.
			continue
		}
		p.incReceived(metrics.ToClient)
		sess.Touch(time.Now())

		p.clientBound.Enqueue(buf[:n], sess.ClientAddr)
	}
}

// drainLoop sweeps both queues on a fixed tick and transmits everything
// whose release time has arrived. Send errors drop the packet and keep the
// loop running.
func (p *Proxy) drainLoop(ctx context.Context, listen *net.UDPConn) {
	ticker := time.NewTicker(p.drainTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pkt := range p.serverBound.DrainReady() {
				p.sendToTarget(pkt)
			}
			for _, pkt := range p.clientBound.DrainReady() {
				p.sendToClient(listen, pkt)
			}
		}
	}
}

func (p *Proxy) sendToTarget(pkt delayqueue.Packet) {
	if !p.allowSend() {
		return
	}
	sess, ok := p.registry.Lookup(pkt.Client)
	if !ok {
		// Session evicted while the packet sat in the queue.
		p.incStaleDrop()
		return
	}
	if _, err := sess.Conn.WriteToUDP(pkt.Payload, p.targetAddr); err != nil {
		p.logger.Printf("send to target for %s: %v", pkt.Client, err)
		p.incSendError()
		return
	}
	p.incRelayed(metrics.ToServer)
}

func (p *Proxy) sendToClient(listen *net.UDPConn, pkt delayqueue.Packet) {
	if !p.allowSend() {
		return
	}
	if _, err := listen.WriteToUDP(pkt.Payload, pkt.Client); err != nil {
		p.logger.Printf("send to client %s: %v", pkt.Client, err)
		p.incSendError()
		return
	}
	p.incRelayed(metrics.ToClient)
}

// sweepLoop evicts idle sessions so the per-session socket count stays
// bounded over long runs.
func (p *Proxy) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range p.registry.EvictIdle(time.Now()) {
				p.logger.Printf("evicted idle session %s (client %s)", sess.ID, sess.ClientAddr)
			}
		}
	}
}

func (p *Proxy) allowSend() bool {
	if p.limiter == nil {
		return true
	}
	if p.limiter.Allow() {
		return true
	}
	if p.metrics != nil {
		p.metrics.IncRateDrop()
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (p *Proxy) incReceived(dir metrics.Direction) {
	if p.metrics != nil {
		p.metrics.IncReceived(dir)
	}
}

func (p *Proxy) incRelayed(dir metrics.Direction) {
	if p.metrics != nil {
		p.metrics.IncRelayed(dir)
	}
}

func (p *Proxy) incSendError() {
	if p.metrics != nil {
		p.metrics.IncSendError()
	}
}

func (p *Proxy) incRecvError() {
	if p.metrics != nil {
		p.metrics.IncRecvError()
	}
}

func (p *Proxy) incStaleDrop() {
	if p.metrics != nil {
		p.metrics.IncStaleDrop()
	}
}
