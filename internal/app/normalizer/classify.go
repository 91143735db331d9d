package normalizer

import (
	"github.com/coachpo/tradelink/internal/domain/schema"
)

// ClassifyOrder maps a raw order update onto an order event kind.
func ClassifyOrder(o schema.OrderRaw) schema.OrderKind {
	if o.OrderID == "" {
		return schema.OrderAck
	}
	total := o.TotalQty.Abs()
	filled := o.FilledQty.Abs()
	if o.State.Terminal() {
		switch o.State {
		case schema.OrderStateFilled:
			if total.IsPositive() && filled.GreaterThanOrEqual(total) {
				if o.ReduceOnly {
					return schema.OrderFilledClose
				}
				return schema.OrderFilledOpen
			}
		case schema.OrderStateCancelled:
			return schema.OrderCancelled
		}
		return schema.OrderOther
	}
	if filled.IsPositive() && filled.LessThan(total) {
		return schema.OrderPartialFill
	}
	return schema.OrderOther
}

// ClassifyPosition diffs a raw position against the previously cached state of the same
// (contract, mode). A nil or zero-size previous state counts as no position.
func ClassifyPosition(p schema.PositionRaw, prev *schema.PositionSnapshot) schema.PositionKind {
	hadPosition := prev != nil && !prev.Size.IsZero()
	switch {
	case !hadPosition && !p.Size.IsZero():
		return schema.PositionOpened
	case hadPosition && p.Size.IsZero():
		return schema.PositionClosed
	case hadPosition && !p.Size.Equal(prev.Size):
		return schema.PositionChanged
	default:
		return schema.PositionHeartbeat
	}
}
