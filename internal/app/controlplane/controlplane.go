// Package controlplane turns control-channel messages into supervisor calls.
package controlplane

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/coachpo/tradelink/internal/app/supervisor"
	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/infra/bus/controlbus"
	"github.com/coachpo/tradelink/internal/infra/telemetry"
	"github.com/coachpo/tradelink/internal/observability"
)

// Controller is the subset of the supervisor the plane drives.
type Controller interface {
	Ensure(ctx context.Context, key supervisor.Key, topics []string) error
	Close(ctx context.Context, key supervisor.Key) error
}

// Plane listens on the control channel. Commands for one key run in arrival order;
// different keys run in parallel and the listener never waits on either.
type Plane struct {
	bus     controlbus.Subscriber
	channel string
	ctrl    Controller
	logger  *zap.Logger
	metrics *telemetry.Metrics
	clock   func() time.Time

	mu     sync.Mutex
	queues map[supervisor.Key]*keyQueue
	wg     conc.WaitGroup

	dedupe       map[string]time.Time
	dedupeWindow time.Duration
}

type keyQueue struct {
	pending []schema.ControlCommand
}

type Option func(*Plane)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Plane) { p.logger = observability.OrNop(logger) }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(p *Plane) { p.metrics = metrics }
}

// WithChannel overrides the control channel name.
func WithChannel(channel string) Option {
	return func(p *Plane) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// WithDedupeWindow sets how long a command id is remembered. Zero disables deduplication.
func WithDedupeWindow(window time.Duration) Option {
	return func(p *Plane) { p.dedupeWindow = window }
}

func New(bus controlbus.Subscriber, ctrl Controller, opts ...Option) *Plane {
	plane := &Plane{
		bus:          bus,
		channel:      controlbus.DefaultControlChannel,
		ctrl:         ctrl,
		logger:       zap.NewNop(),
		metrics:      nil,
		clock:        time.Now,
		mu:           sync.Mutex{},
		queues:       make(map[supervisor.Key]*keyQueue),
		wg:           conc.WaitGroup{},
		dedupe:       make(map[string]time.Time),
		dedupeWindow: 5 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(plane)
		}
	}
	return plane
}

// Run subscribes and dispatches until ctx is cancelled or the subscription ends.
// It returns after every queued command has finished.
func (p *Plane) Run(ctx context.Context) error {
	sub, err := p.bus.Subscribe(ctx, p.channel)
	if err != nil {
		return err
	}
	p.logger.Info("control plane listening", zap.String("channel", p.channel))
	defer p.wg.Wait()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-sub.Messages():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("control subscription closed")
			}
			p.Handle(ctx, payload)
		}
	}
}

// Handle decodes one message and queues it behind earlier commands for the same key.
func (p *Plane) Handle(ctx context.Context, payload []byte) {
	if ctx.Err() != nil {
		p.logger.Debug("control message dropped, plane stopping")
		return
	}
	cmd, err := schema.DecodeControlCommand(payload)
	if err != nil {
		p.metrics.ControlCommand(ctx, "invalid", "rejected")
		p.logger.Warn("invalid control message", zap.ByteString("payload", truncate(payload, 256)), zap.Error(err))
		return
	}
	if !p.markSeen(cmd.ID) {
		p.metrics.ControlCommand(ctx, string(cmd.Op), "duplicate")
		p.logger.Debug("duplicate control message", zap.String("id", cmd.ID))
		return
	}
	p.enqueue(ctx, cmd)
}

// Wait blocks until every queued command has been executed.
func (p *Plane) Wait() { p.wg.Wait() }

func (p *Plane) enqueue(ctx context.Context, cmd schema.ControlCommand) {
	key := supervisor.Key{UserID: cmd.UserID, Exchange: cmd.ExchangeKind}
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[key]; ok {
		q.pending = append(q.pending, cmd)
		return
	}
	q := &keyQueue{pending: []schema.ControlCommand{cmd}}
	p.queues[key] = q
	p.wg.Go(func() { p.drain(ctx, key, q) })
}

func (p *Plane) drain(ctx context.Context, key supervisor.Key, q *keyQueue) {
	for {
		p.mu.Lock()
		if len(q.pending) == 0 {
			delete(p.queues, key)
			p.mu.Unlock()
			return
		}
		cmd := q.pending[0]
		q.pending[0] = schema.ControlCommand{}
		q.pending = q.pending[1:]
		p.mu.Unlock()

		p.execute(ctx, key, cmd)
	}
}

func (p *Plane) execute(ctx context.Context, key supervisor.Key, cmd schema.ControlCommand) {
	log := p.logger.With(observability.User(key.UserID), observability.Exchange(key.Exchange), zap.String("op", string(cmd.Op)))
	var err error
	switch cmd.Op {
	case schema.ControlOpen:
		err = p.ctrl.Ensure(ctx, key, cmd.Topics)
	case schema.ControlClose:
		err = p.ctrl.Close(ctx, key)
	}
	switch {
	case err == nil:
		p.metrics.ControlCommand(ctx, string(cmd.Op), "ok")
		log.Debug("control command applied")
	case errors.Is(err, supervisor.ErrCredentialsAbsent):
		p.metrics.ControlCommand(ctx, string(cmd.Op), "no_credentials")
		log.Info("control command skipped, no credentials")
	default:
		p.metrics.ControlCommand(ctx, string(cmd.Op), "error")
		log.Warn("control command failed", zap.Error(err))
	}
}

func (p *Plane) markSeen(id string) bool {
	if id == "" || p.dedupeWindow <= 0 {
		return true
	}
	now := p.clock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts, ok := p.dedupe[id]; ok && now.Sub(ts) < p.dedupeWindow {
		return false
	}
	p.dedupe[id] = now
	if len(p.dedupe) > 4096 {
		threshold := now.Add(-p.dedupeWindow)
		for seen, ts := range p.dedupe {
			if ts.Before(threshold) {
				delete(p.dedupe, seen)
			}
		}
	}
	return true
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
