package schema

// TradeStatus is the ledger lifecycle state of a trade.
type TradeStatus string

const (
	TradePending         TradeStatus = "pending"
	TradeWaitingPosition TradeStatus = "waiting_position"
	TradeWaitingTargets  TradeStatus = "waiting_targets"
	TradePartiallyFilled TradeStatus = "partially_filled"
	TradeClosed          TradeStatus = "closed"
	TradeCancelled       TradeStatus = "cancelled"
	TradeError           TradeStatus = "error"
)

var tradeStatusRank = map[TradeStatus]int{
	TradePending:         0,
	TradeWaitingPosition: 1,
	TradeWaitingTargets:  2,
	TradePartiallyFilled: 2,
	TradeClosed:          3,
	TradeCancelled:       3,
	TradeError:           3,
}

// TerminalTradeStatuses lists the sink states.
func TerminalTradeStatuses() []TradeStatus {
	return []TradeStatus{TradeClosed, TradeCancelled, TradeError}
}

// Known reports whether s is a recognized status.
func (s TradeStatus) Known() bool {
	_, ok := tradeStatusRank[s]
	return ok
}

// Terminal reports whether s is a sink state.
func (s TradeStatus) Terminal() bool {
	return s == TradeClosed || s == TradeCancelled || s == TradeError
}

// CanTransition reports whether moving a trade from `from` to `to` is a forward move.
// waiting_targets and partially_filled share a rank and may alternate. Cancellation is
// only accepted before the entry order has filled.
func CanTransition(from, to TradeStatus) bool {
	if !from.Known() || !to.Known() || from.Terminal() || from == to {
		return false
	}
	if to == TradeCancelled {
		return from == TradePending || from == TradeWaitingPosition
	}
	if to.Terminal() {
		return true
	}
	return tradeStatusRank[to] >= tradeStatusRank[from]
}
