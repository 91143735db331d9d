package reconciler

import (
	"sync"
	"time"

	"github.com/coachpo/tradelink/internal/domain/tradestore"
)

// Target identifies a conditional exit order of a trade.
type Target uint8

const (
	TakeProfit Target = iota + 1
	StopLoss
)

func (t Target) String() string {
	switch t {
	case TakeProfit:
		return "take_profit"
	case StopLoss:
		return "stop_loss"
	default:
		return "unknown"
	}
}

// TargetState tracks one take-profit or stop-loss leg.
type TargetState struct {
	Enabled  bool
	Executed bool
}

// PendingTrigger is the per-trade TP/SL gate. A trigger fires only once it is armed and at most
// once per target.
type PendingTrigger struct {
	TradeID         int64
	ExchangeOrderID string
	TakeProfit      TargetState
	StopLoss        TargetState
	Armed           bool
	ArmedAt         time.Time
}

func (p *PendingTrigger) target(t Target) *TargetState {
	switch t {
	case TakeProfit:
		return &p.TakeProfit
	case StopLoss:
		return &p.StopLoss
	default:
		return nil
	}
}

// Triggers is the in-process pending trigger cache.
type Triggers struct {
	mu    sync.Mutex
	items map[int64]PendingTrigger
}

// NewTriggers returns an empty cache.
func NewTriggers() *Triggers {
	return &Triggers{
		mu:    sync.Mutex{},
		items: make(map[int64]PendingTrigger),
	}
}

// Arm marks the trade's targets eligible. Executed flags are never cleared. The boolean
// reports whether this call armed the trigger.
func (t *Triggers) Arm(trade tradestore.Trade, at time.Time) (PendingTrigger, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.items[trade.ID]
	if ok && current.Armed {
		return current, false
	}
	next := PendingTrigger{
		TradeID:         trade.ID,
		ExchangeOrderID: trade.ExchangeOrderID,
		TakeProfit: TargetState{
			Enabled:  trade.TakeProfitEnabled,
			Executed: trade.TakeProfitExecuted || current.TakeProfit.Executed,
		},
		StopLoss: TargetState{
			Enabled:  trade.StopLossEnabled,
			Executed: trade.StopLossExecuted || current.StopLoss.Executed,
		},
		Armed:   true,
		ArmedAt: at,
	}
	t.items[trade.ID] = next
	return next, true
}

// Get returns the trigger of a trade.
func (t *Triggers) Get(tradeID int64) (PendingTrigger, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[tradeID]
	return p, ok
}

// MarkExecuted claims a target for firing. It returns false when the trigger is not armed, the
// target is disabled, or it already fired.
func (t *Triggers) MarkExecuted(tradeID int64, target Target) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[tradeID]
	if !ok || !p.Armed {
		return false
	}
	state := p.target(target)
	if state == nil || !state.Enabled || state.Executed {
		return false
	}
	state.Executed = true
	t.items[tradeID] = p
	return true
}

// Forget drops the trigger of a finished trade.
func (t *Triggers) Forget(tradeID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, tradeID)
}

// Len returns the number of tracked triggers.
func (t *Triggers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
