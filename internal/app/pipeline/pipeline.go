// Package pipeline routes supervisor frames through normalization and reconciliation.
package pipeline

import (
	"context"

	"github.com/coachpo/tradelink/internal/app/normalizer"
	"github.com/coachpo/tradelink/internal/app/reconciler"
	"github.com/coachpo/tradelink/internal/app/supervisor"
	"github.com/coachpo/tradelink/internal/domain/schema"
)

// Pipeline is the supervisor's frame handler.
type Pipeline struct {
	normalizer *normalizer.Normalizer
	reconciler *reconciler.Reconciler
}

var _ supervisor.FrameHandler = (*Pipeline)(nil)

// New wires a normalizer to a reconciler.
func New(n *normalizer.Normalizer, r *reconciler.Reconciler) *Pipeline {
	return &Pipeline{normalizer: n, reconciler: r}
}

// HandleFrame normalizes frame and applies every resulting event in order.
func (p *Pipeline) HandleFrame(ctx context.Context, key supervisor.Key, frame schema.Frame) {
	for _, ev := range p.normalizer.Orders(key.Exchange, frame) {
		p.reconciler.ApplyOrder(ctx, key.UserID, ev)
	}
	if len(frame.Positions) == 0 && !frame.PositionsComplete {
		return
	}
	for _, ev := range p.normalizer.Positions(ctx, key.UserID, key.Exchange, frame) {
		p.reconciler.ApplyPosition(ctx, key.UserID, ev)
	}
}
