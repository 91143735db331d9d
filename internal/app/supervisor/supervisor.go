// Package supervisor keeps one streaming connection alive per (user, exchange) and feeds the
// frames it receives to a handler.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/coachpo/tradelink/internal/domain/credstore"
	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
	"github.com/coachpo/tradelink/internal/infra/telemetry"
	"github.com/coachpo/tradelink/internal/observability"
)

var (
	// ErrCredentialsAbsent is returned by Ensure when no credentials are stored. No retry is
	// scheduled; a later open command starts over.
	ErrCredentialsAbsent = errors.New("supervisor: credentials absent")
	// ErrShutdown is returned once Shutdown has started.
	ErrShutdown = errors.New("supervisor: shut down")
)

// Key identifies a supervised connection.
type Key struct {
	UserID   string
	Exchange schema.ExchangeKind
}

func (k Key) String() string { return string(k.Exchange) + ":" + k.UserID }

// FrameHandler consumes parsed frames. Calls for one key are sequential.
type FrameHandler interface {
	HandleFrame(ctx context.Context, key Key, frame schema.Frame)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, key Key, frame schema.Frame)

func (f FrameHandlerFunc) HandleFrame(ctx context.Context, key Key, frame schema.Frame) {
	f(ctx, key, frame)
}

// Adapters resolves the adapter of an exchange.
type Adapters interface {
	Lookup(kind schema.ExchangeKind) (shared.Adapter, bool)
}

type stopper interface {
	Stop() bool
}

// pendingRetry identifies one scheduled reconnect so a superseded timer can recognise itself.
type pendingRetry struct {
	timer stopper
}

// Supervisor owns the connection registry. Entries are created on first use and never
// removed, so the per-key mutex is stable for the life of the process.
type Supervisor struct {
	adapters Adapters
	creds    credstore.Source
	handler  FrameHandler
	opts     Options
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	afterFunc func(d time.Duration, f func()) stopper

	entries sync.Map // Key -> *entry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	closed  atomic.Bool
}

type entry struct {
	mu      sync.Mutex
	key     Key
	conn    *connection
	backoff *backoff.ExponentialBackOff
	retry   *pendingRetry
	topics  []string
	wanted  bool

	// live mirrors conn != nil and delay holds the last scheduled backoff. Both are read
	// without e.mu, which open holds for the whole connect timeout.
	live  atomic.Bool
	delay atomic.Int64
}

type connection struct {
	session   string
	transport shared.Transport
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures optional supervisor behaviour.
type Option func(*Supervisor)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) { s.logger = observability.OrNop(logger) }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(s *Supervisor) { s.metrics = metrics }
}

func WithOptions(opts Options) Option {
	return func(s *Supervisor) { s.opts = withDefaults(opts) }
}

// New constructs a supervisor. Shutdown must be called to release it.
func New(adapters Adapters, creds credstore.Source, handler FrameHandler, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		adapters: adapters,
		creds:    creds,
		handler:  handler,
		opts:     withDefaults(Options{}),
		logger:   zap.NewNop(),
		metrics:  nil,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) entry(key Key) *entry {
	if v, ok := s.entries.Load(key); ok {
		return v.(*entry)
	}
	v, _ := s.entries.LoadOrStore(key, &entry{key: key, backoff: s.opts.newBackoff()})
	return v.(*entry)
}

// Ensure opens the connection for key unless one is live. Topics, when non-nil, replace the
// remembered topic set used by later reconnects.
func (s *Supervisor) Ensure(ctx context.Context, key Key, topics []string) error {
	if s.closed.Load() {
		return ErrShutdown
	}
	adapter, ok := s.adapters.Lookup(key.Exchange)
	if !ok {
		return errs.New(string(key.Exchange), errs.CodeInvalid, errs.WithStage("ensure"), errs.WithMessage("unsupported exchange"))
	}
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed.Load() {
		return ErrShutdown
	}
	if topics != nil {
		e.topics = append([]string(nil), topics...)
	}
	e.wanted = true
	if e.conn != nil {
		return nil
	}
	e.stopRetry()
	return s.open(ctx, e, adapter)
}

// open connects and registers e. Callers hold e.mu.
func (s *Supervisor) open(ctx context.Context, e *entry, adapter shared.Adapter) error {
	log := s.logger.With(observability.Conn(e.key.UserID, e.key.Exchange, "")...)
	exchange := string(e.key.Exchange)

	creds, found, err := s.creds.Lookup(ctx, e.key.UserID, e.key.Exchange)
	if err != nil {
		s.metrics.ConnectAttempt(ctx, exchange, "lookup_error")
		log.Warn("credential lookup failed", zap.Error(err))
		s.scheduleRetry(e, "lookup_error")
		return fmt.Errorf("lookup credentials %s: %w", e.key, err)
	}
	if !found {
		s.metrics.ConnectAttempt(ctx, exchange, "credentials_absent")
		log.Warn("credentials absent; waiting for next open command")
		e.wanted = false
		return ErrCredentialsAbsent
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	t, err := adapter.Connect(connectCtx, creds)
	if err == nil {
		if err = adapter.AuthenticateAndSubscribe(connectCtx, t, creds, e.topics); err != nil {
			_ = t.CloseNow()
		}
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && connectCtx.Err() != nil {
			err = errs.New(exchange, errs.CodeTimeout, errs.WithStage("connect"), errs.WithCause(err))
		}
		if errs.Is(err, errs.CodeAuth) {
			s.metrics.ConnectAttempt(ctx, exchange, "auth_rejected")
			log.Warn("handshake rejected credentials; waiting for next open command", zap.Error(err))
			e.wanted = false
			return err
		}
		s.metrics.ConnectAttempt(ctx, exchange, "failure")
		log.Warn("connect failed", zap.Error(err))
		s.scheduleRetry(e, "connect_failed")
		return err
	}

	e.backoff.Reset()
	e.setDelay(0)
	e.setConn(s.start(e.key, adapter, t))
	s.metrics.ConnectAttempt(ctx, exchange, "success")
	s.metrics.ConnectionOpened(ctx, exchange)
	log.Info("connection open", zap.String("session", e.conn.session), zap.Strings("topics", e.topics))
	return nil
}

// start launches the read, process and heartbeat goroutines of a fresh connection.
func (s *Supervisor) start(key Key, adapter shared.Adapter, t shared.Transport) *connection {
	ctx, cancel := context.WithCancel(s.ctx)
	conn := &connection{
		session:   uuid.NewString(),
		transport: t,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	log := s.logger.With(observability.Conn(key.UserID, key.Exchange, conn.session)...)
	frames := make(chan []byte, s.opts.EventBuffer)

	var group conc.WaitGroup
	group.Go(func() {
		defer close(frames)
		for {
			raw, err := t.Read(ctx)
			if err != nil {
				s.onUnexpectedClose(key, conn, err)
				return
			}
			select {
			case frames <- raw:
			case <-ctx.Done():
				return
			}
		}
	})
	group.Go(func() {
		s.process(key, adapter, conn, frames, log)
	})
	group.Go(func() {
		s.heartbeat(ctx, adapter, t, log)
	})
	s.wg.Go(func() {
		group.Wait()
		close(conn.done)
	})
	return conn
}

func (s *Supervisor) process(key Key, adapter shared.Adapter, conn *connection, frames <-chan []byte, log *zap.Logger) {
	exchange := string(key.Exchange)
	for raw := range frames {
		frame, err := adapter.ParseMessage(raw)
		if err != nil {
			s.metrics.DecodeError(s.ctx, exchange)
			log.Warn("dropping frame", zap.Error(err), zap.ByteString("raw", truncate(raw, 512)))
			continue
		}
		s.metrics.FrameReceived(s.ctx, exchange, frame.Type.String())
		if frame.Reconnect {
			log.Info("exchange requested reconnect", zap.String("detail", frame.Detail))
			_ = conn.transport.CloseNow()
			continue
		}
		if s.handler != nil && (frame.Type == schema.FrameOrders || frame.Type == schema.FramePositions) {
			s.handler.HandleFrame(s.ctx, key, frame)
		}
	}
}

func (s *Supervisor) heartbeat(ctx context.Context, adapter shared.Adapter, t shared.Transport, log *zap.Logger) {
	interval := adapter.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, interval)
			err := adapter.Heartbeat(hbCtx, t)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("heartbeat failed; dropping connection", zap.Error(err))
					_ = t.CloseNow()
				}
				return
			}
		}
	}
}

// onUnexpectedClose deregisters conn and schedules a reconnect after the current backoff.
func (s *Supervisor) onUnexpectedClose(key Key, conn *connection, cause error) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != conn {
		return
	}
	e.setConn(nil)
	conn.cancel()
	_ = conn.transport.CloseNow()
	s.metrics.ConnectionClosed(s.ctx, string(key.Exchange))
	s.logger.Warn("connection lost", append(observability.Conn(key.UserID, key.Exchange, conn.session), zap.Error(cause))...)
	if !e.wanted || s.closed.Load() {
		return
	}
	s.scheduleRetry(e, "unexpected_close")
}

// scheduleRetry arms the single pending reconnect of e. Callers hold e.mu.
func (s *Supervisor) scheduleRetry(e *entry, reason string) {
	if s.closed.Load() {
		return
	}
	e.stopRetry()
	delay := e.backoff.NextBackOff()
	e.setDelay(delay)
	s.metrics.ReconnectScheduled(s.ctx, string(e.key.Exchange), reason)
	s.logger.Info("reconnect scheduled", append(observability.Conn(e.key.UserID, e.key.Exchange, ""),
		zap.Duration("delay", delay), zap.String("reason", reason))...)
	key := e.key
	pending := &pendingRetry{}
	pending.timer = s.afterFunc(delay, func() { s.retry(key, pending) })
	e.retry = pending
}

func (s *Supervisor) retry(key Key, pending *pendingRetry) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retry != pending {
		return
	}
	e.retry = nil
	if !e.wanted || e.conn != nil || s.closed.Load() {
		return
	}
	adapter, ok := s.adapters.Lookup(key.Exchange)
	if !ok {
		return
	}
	_ = s.open(s.ctx, e, adapter)
}

// setConn keeps the live mirror in step with conn. Callers hold e.mu.
func (e *entry) setConn(conn *connection) {
	e.conn = conn
	e.live.Store(conn != nil)
}

func (e *entry) setDelay(d time.Duration) {
	e.delay.Store(int64(d))
}

func (e *entry) stopRetry() {
	if e.retry != nil {
		e.retry.timer.Stop()
		e.retry = nil
	}
}

// Close tears down the connection for key. Closing an unknown or closed key is a no-op.
func (s *Supervisor) Close(ctx context.Context, key Key) error {
	v, ok := s.entries.Load(key)
	if !ok {
		return nil
	}
	return s.closeEntry(ctx, v.(*entry))
}

func (s *Supervisor) closeEntry(ctx context.Context, e *entry) error {
	e.mu.Lock()
	e.wanted = false
	e.stopRetry()
	conn := e.conn
	e.setConn(nil)
	e.mu.Unlock()
	if conn == nil {
		return nil
	}

	closeCtx, cancel := context.WithTimeout(ctx, s.opts.CloseTimeout)
	defer cancel()
	err := conn.transport.Close(closeCtx)
	conn.cancel()
	s.metrics.ConnectionClosed(ctx, string(e.key.Exchange))
	select {
	case <-conn.done:
	case <-closeCtx.Done():
		_ = conn.transport.CloseNow()
		<-conn.done
	}
	s.logger.Info("connection closed", observability.Conn(e.key.UserID, e.key.Exchange, conn.session)...)
	if err != nil {
		return fmt.Errorf("close %s: %w", e.key, err)
	}
	return nil
}

// Shutdown closes every connection concurrently and waits for their goroutines.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	p := pool.New().WithErrors()
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		p.Go(func() error { return s.closeEntry(ctx, e) })
		return true
	})
	err := p.Wait()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

// Live reports whether key has a registered connection. It never waits on a connect in
// progress.
func (s *Supervisor) Live(key Key) bool {
	v, ok := s.entries.Load(key)
	if !ok {
		return false
	}
	return v.(*entry).live.Load()
}

// LiveCount returns the number of registered connections.
func (s *Supervisor) LiveCount() int {
	count := 0
	s.entries.Range(func(_, v any) bool {
		if v.(*entry).live.Load() {
			count++
		}
		return true
	})
	return count
}

// BackoffFor returns the delay of the most recently scheduled reconnect, zero after a
// successful open.
func (s *Supervisor) BackoffFor(key Key) time.Duration {
	v, ok := s.entries.Load(key)
	if !ok {
		return 0
	}
	return time.Duration(v.(*entry).delay.Load())
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
