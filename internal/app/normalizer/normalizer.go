// Package normalizer turns adapter frames into exchange-agnostic order and position events.
package normalizer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/observability"
)

// PositionCache stores the last known position per user, keyed by {contract}:{mode}.
type PositionCache interface {
	GetPosition(ctx context.Context, userID, key string) (schema.PositionSnapshot, bool, error)
	PutPosition(ctx context.Context, userID string, snap schema.PositionSnapshot) error
	DeletePosition(ctx context.Context, userID, key string) error
	ListPositions(ctx context.Context, userID string) ([]schema.PositionSnapshot, error)
}

// Normalizer classifies frames. Position classification is stateful through the cache.
type Normalizer struct {
	positions PositionCache
	logger    *zap.Logger
	clock     func() time.Time
}

// Option configures optional normalizer behaviour.
type Option func(*Normalizer)

// WithLogger sets the logger used for cache failures.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		n.logger = observability.OrNop(logger)
	}
}

// WithClock overrides the clock used to stamp synthesized events.
func WithClock(clock func() time.Time) Option {
	return func(n *Normalizer) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// New constructs a normalizer backed by the given position cache.
func New(positions PositionCache, opts ...Option) *Normalizer {
	n := &Normalizer{
		positions: positions,
		logger:    zap.NewNop(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Orders converts the order updates of a frame into events.
func (n *Normalizer) Orders(kind schema.ExchangeKind, frame schema.Frame) []schema.OrderEvent {
	if len(frame.Orders) == 0 {
		return nil
	}
	events := make([]schema.OrderEvent, 0, len(frame.Orders))
	for _, o := range frame.Orders {
		events = append(events, schema.OrderEvent{
			Exchange:        kind,
			ExchangeOrderID: o.OrderID,
			LinkedOrderID:   o.LinkedOrderID,
			Contract:        o.Contract,
			Kind:            ClassifyOrder(o),
			FilledQty:       o.FilledQty.Abs(),
			RemainingQty:    o.Remaining(),
			AvgFillPrice:    o.AvgFillPrice,
			RealizedPnl:     o.RealizedPnl,
			EventTime:       o.UpdatedAt,
			IsSnapshot:      o.Snapshot,
			RawPayload:      o.Payload,
		})
	}
	return events
}

// Positions classifies the position updates of a frame against the cache and updates it.
// Snapshot updates warm the cache like live ones. For complete frames, cached positions of the
// same exchange that are absent from the frame are reported closed.
func (n *Normalizer) Positions(ctx context.Context, userID string, kind schema.ExchangeKind, frame schema.Frame) []schema.PositionEvent {
	events := make([]schema.PositionEvent, 0, len(frame.Positions))
	seen := make(map[string]struct{}, len(frame.Positions))
	for _, p := range frame.Positions {
		seen[p.Key()] = struct{}{}
		events = append(events, n.position(ctx, userID, kind, p))
	}
	if !frame.PositionsComplete || n.positions == nil {
		return events
	}
	cached, err := n.positions.ListPositions(ctx, userID)
	if err != nil {
		n.logger.Warn("list cached positions failed", append(observability.Conn(userID, kind, ""), zap.Error(err))...)
		return events
	}
	for _, snap := range cached {
		if snap.Exchange != kind {
			continue
		}
		if _, ok := seen[snap.Key()]; ok {
			continue
		}
		events = append(events, n.position(ctx, userID, kind, schema.PositionRaw{
			Contract:  snap.Contract,
			Mode:      snap.Mode,
			UpdatedAt: n.clock().UTC(),
			Snapshot:  allSnapshots(frame.Positions),
		}))
	}
	return events
}

func allSnapshots(ps []schema.PositionRaw) bool {
	for _, p := range ps {
		if !p.Snapshot {
			return false
		}
	}
	return len(ps) > 0
}

func (n *Normalizer) position(ctx context.Context, userID string, kind schema.ExchangeKind, p schema.PositionRaw) schema.PositionEvent {
	var prev *schema.PositionSnapshot
	if n.positions != nil {
		snap, ok, err := n.positions.GetPosition(ctx, userID, p.Key())
		if err != nil {
			n.logger.Warn("read cached position failed",
				append(observability.Conn(userID, kind, ""), zap.String("position", p.Key()), zap.Error(err))...)
		}
		if ok && snap.Exchange == kind {
			prev = &snap
		}
	}
	posKind := ClassifyPosition(p, prev)
	n.updateCache(ctx, userID, kind, p, posKind, prev)
	return schema.PositionEvent{
		Exchange:     kind,
		Contract:     p.Contract,
		PositionMode: p.Mode,
		Kind:         posKind,
		Size:         p.Size,
		EntryPrice:   p.EntryPrice,
		RealizedPnl:  p.RealizedPnl,
		EventTime:    p.UpdatedAt,
		IsSnapshot:   p.Snapshot,
		RawPayload:   p.Payload,
	}
}

func (n *Normalizer) updateCache(ctx context.Context, userID string, kind schema.ExchangeKind, p schema.PositionRaw, posKind schema.PositionKind, prev *schema.PositionSnapshot) {
	if n.positions == nil {
		return
	}
	var err error
	switch {
	case p.Size.IsZero() && prev != nil:
		err = n.positions.DeletePosition(ctx, userID, p.Key())
	case !p.Size.IsZero():
		err = n.positions.PutPosition(ctx, userID, schema.SnapshotOf(kind, p))
	}
	if err != nil {
		n.logger.Warn("update cached position failed",
			append(observability.Conn(userID, kind, ""), zap.String("position", p.Key()),
				zap.String("kind", string(posKind)), zap.Error(err))...)
	}
}
