// Package reconciler applies normalized exchange events to the trade ledger and fans them out
// to per-user channels.
//
// The reconciler only arms take-profit and stop-loss targets when an entry fills. Firing them
// belongs to the order-entry layer, which shares the cache through WithTriggers and claims a
// target with Triggers.MarkExecuted before placing the exit order. The executed flags in the
// ledger are written by that layer; the reconciler reads them when arming and never updates
// them.
package reconciler

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/domain/tradestore"
	"github.com/coachpo/tradelink/internal/infra/telemetry"
	"github.com/coachpo/tradelink/internal/observability"
)

// Publisher delivers fan-out payloads.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// OrderCache keeps the latest payload of every order per user.
type OrderCache interface {
	PutOrder(ctx context.Context, userID, orderID string, payload []byte) error
}

// Outcome summarises what an apply call did to the ledger.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeUntracked Outcome = "untracked"
	OutcomeSnapshot  Outcome = "snapshot"
	OutcomeFailed    Outcome = "failed"
)

// OrdersChannel is the per-user order fan-out channel.
func OrdersChannel(userID string) string { return "user:" + userID + ":orders:chan" }

// PositionsChannel is the per-user position fan-out channel.
func PositionsChannel(userID string) string { return "user:" + userID + ":positions:chan" }

// Reconciler applies events idempotently. It holds no lock across trades; concurrent updates
// of one trade are resolved by the ledger's conditional update.
type Reconciler struct {
	ledger    tradestore.Ledger
	publisher Publisher
	orders    OrderCache
	triggers  *Triggers
	metrics   *telemetry.Metrics
	logger    *zap.Logger
	clock     func() time.Time
}

// Option configures optional reconciler behaviour.
type Option func(*Reconciler)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = observability.OrNop(logger) }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(r *Reconciler) { r.metrics = metrics }
}

// WithOrderCache enables the per-user order read cache.
func WithOrderCache(cache OrderCache) Option {
	return func(r *Reconciler) { r.orders = cache }
}

// WithTriggers shares a pending trigger cache with other components.
func WithTriggers(triggers *Triggers) Option {
	return func(r *Reconciler) {
		if triggers != nil {
			r.triggers = triggers
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs a reconciler.
func New(ledger tradestore.Ledger, publisher Publisher, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:    ledger,
		publisher: publisher,
		orders:    nil,
		triggers:  NewTriggers(),
		metrics:   nil,
		logger:    zap.NewNop(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Triggers exposes the pending trigger cache.
func (r *Reconciler) Triggers() *Triggers { return r.triggers }

// ApplyOrder reconciles one order event. The event is published to the user's order channel
// whatever the ledger outcome.
func (r *Reconciler) ApplyOrder(ctx context.Context, userID string, ev schema.OrderEvent) (outcome Outcome) {
	log := r.logger.With(observability.User(userID), observability.Exchange(ev.Exchange),
		zap.String("order_id", ev.ExchangeOrderID), zap.String("kind", string(ev.Kind)))
	defer func() {
		r.metrics.Reconciled(ctx, string(ev.Exchange), string(ev.Kind), string(outcome))
		r.fanout(ctx, log, "orders", OrdersChannel(userID), ev.RawPayload, ev)
	}()

	if ev.ExchangeOrderID != "" && r.orders != nil {
		if err := r.orders.PutOrder(ctx, userID, ev.ExchangeOrderID, payloadOf(ev.RawPayload, ev)); err != nil {
			log.Warn("order cache write failed", zap.Error(err))
		}
	}
	if ev.Kind == schema.OrderAck || ev.ExchangeOrderID == "" {
		return OutcomeSkipped
	}

	trade, viaClose, err := r.resolve(ctx, userID, ev)
	if errors.Is(err, tradestore.ErrTradeNotFound) {
		log.Debug("order not tracked")
		return OutcomeUntracked
	}
	if err != nil {
		log.Error("trade lookup failed", zap.Error(err))
		return OutcomeFailed
	}
	if ev.IsSnapshot {
		return OutcomeSnapshot
	}
	log = log.With(zap.Int64("trade_id", trade.ID), zap.String("status", string(trade.Status)))

	kind := ev.Kind
	if viaClose && kind == schema.OrderFilledOpen {
		kind = schema.OrderFilledClose
	}
	at := r.eventTime(ev.EventTime)

	switch kind {
	case schema.OrderFilledOpen:
		if trade.Status == schema.TradeWaitingTargets {
			r.triggers.Arm(trade, at)
			return OutcomeSkipped
		}
		armed := true
		price := ev.AvgFillPrice
		outcome = r.transition(ctx, log, trade, schema.TradeWaitingTargets, tradestore.StatusUpdate{
			OpenFillPrice: &price,
			OpenFilledAt:  &at,
			TargetsArmed:  &armed,
		})
		if outcome == OutcomeApplied {
			r.triggers.Arm(trade, at)
		}
		return outcome
	case schema.OrderPartialFill:
		remaining := ev.RemainingQty
		if trade.Status == schema.TradePartiallyFilled {
			if trade.RemainingQty.Valid && trade.RemainingQty.Decimal.Equal(remaining) {
				return OutcomeSkipped
			}
			return r.update(ctx, log, trade, tradestore.StatusUpdate{
				From:         []schema.TradeStatus{schema.TradePartiallyFilled},
				RemainingQty: &remaining,
			})
		}
		return r.transition(ctx, log, trade, schema.TradePartiallyFilled, tradestore.StatusUpdate{RemainingQty: &remaining})
	case schema.OrderFilledClose:
		price := ev.AvgFillPrice
		update := tradestore.StatusUpdate{
			CloseFillPrice: &price,
			CloseFilledAt:  &at,
			ClosedAt:       &at,
		}
		if ev.RealizedPnl.Valid && !ev.RealizedPnl.Decimal.IsZero() {
			pnl := ev.RealizedPnl.Decimal
			update.RealizedPnl = &pnl
		}
		outcome = r.transition(ctx, log, trade, schema.TradeClosed, update)
		if outcome == OutcomeApplied {
			r.triggers.Forget(trade.ID)
		}
		return outcome
	case schema.OrderCancelled:
		outcome = r.transition(ctx, log, trade, schema.TradeCancelled, tradestore.StatusUpdate{})
		if outcome == OutcomeApplied {
			r.triggers.Forget(trade.ID)
		}
		return outcome
	default:
		return OutcomeSkipped
	}
}

// ApplyPosition reconciles one position event. A closed position closes every open trade of
// the user on that contract that the order stream has not already closed.
func (r *Reconciler) ApplyPosition(ctx context.Context, userID string, ev schema.PositionEvent) (outcome Outcome) {
	log := r.logger.With(observability.User(userID), observability.Exchange(ev.Exchange),
		zap.String("contract", ev.Contract), zap.String("mode", ev.PositionMode), zap.String("kind", string(ev.Kind)))
	defer func() {
		r.metrics.Reconciled(ctx, string(ev.Exchange), "position_"+string(ev.Kind), string(outcome))
		r.fanout(ctx, log, "positions", PositionsChannel(userID), ev.RawPayload, ev)
	}()

	if ev.IsSnapshot {
		return OutcomeSnapshot
	}
	if ev.Kind != schema.PositionClosed {
		return OutcomeSkipped
	}
	candidates, err := r.ledger.FindTradesByUserContractStatus(ctx, userID, ev.Contract,
		schema.TradeWaitingTargets, schema.TradePartiallyFilled)
	if err != nil {
		log.Error("open trade lookup failed", zap.Error(err))
		return OutcomeFailed
	}
	trades := candidates[:0]
	for _, trade := range candidates {
		if trade.Exchange == "" || trade.Exchange == ev.Exchange {
			trades = append(trades, trade)
		}
	}
	if len(trades) == 0 {
		log.Debug("no open trade for closed position")
		return OutcomeUntracked
	}

	at := r.eventTime(ev.EventTime)
	outcome = OutcomeSkipped
	for _, trade := range trades {
		update := tradestore.StatusUpdate{ClosedAt: &at}
		// Realized PnL is per position; it is attributable only when a single trade matches.
		if len(trades) == 1 && ev.RealizedPnl.Valid && !ev.RealizedPnl.Decimal.IsZero() {
			pnl := ev.RealizedPnl.Decimal
			update.RealizedPnl = &pnl
		}
		tradeLog := log.With(zap.Int64("trade_id", trade.ID), zap.String("status", string(trade.Status)))
		switch r.transition(ctx, tradeLog, trade, schema.TradeClosed, update) {
		case OutcomeApplied:
			r.triggers.Forget(trade.ID)
			if outcome != OutcomeFailed {
				outcome = OutcomeApplied
			}
		case OutcomeFailed:
			outcome = OutcomeFailed
		}
	}
	return outcome
}

// resolve finds the trade by order id, then linked order id, then close order id.
func (r *Reconciler) resolve(ctx context.Context, userID string, ev schema.OrderEvent) (tradestore.Trade, bool, error) {
	trade, err := r.ledger.FindTradeByExchangeOrderID(ctx, ev.ExchangeOrderID)
	if err == nil {
		return r.owned(userID, trade, false)
	}
	if !errors.Is(err, tradestore.ErrTradeNotFound) {
		return tradestore.Trade{}, false, err
	}
	if ev.LinkedOrderID != "" && ev.LinkedOrderID != ev.ExchangeOrderID {
		trade, err = r.ledger.FindTradeByExchangeOrderID(ctx, ev.LinkedOrderID)
		if err == nil {
			return r.owned(userID, trade, true)
		}
		if !errors.Is(err, tradestore.ErrTradeNotFound) {
			return tradestore.Trade{}, false, err
		}
	}
	trade, err = r.ledger.FindTradeByCloseOrderID(ctx, ev.ExchangeOrderID)
	if err != nil {
		return tradestore.Trade{}, false, err
	}
	return r.owned(userID, trade, true)
}

func (r *Reconciler) owned(userID string, trade tradestore.Trade, viaClose bool) (tradestore.Trade, bool, error) {
	if trade.UserID != "" && trade.UserID != userID {
		r.logger.Warn("order belongs to another user",
			observability.User(userID), zap.String("owner", trade.UserID), zap.Int64("trade_id", trade.ID))
		return tradestore.Trade{}, false, tradestore.ErrTradeNotFound
	}
	return trade, viaClose, nil
}

// transition moves trade to status `to` when the move is forward. Terminal trades are never
// touched; the first terminal write wins.
func (r *Reconciler) transition(ctx context.Context, log *zap.Logger, trade tradestore.Trade, to schema.TradeStatus, update tradestore.StatusUpdate) Outcome {
	if trade.Status == to || trade.Status.Terminal() {
		log.Debug("transition already applied", zap.String("target", string(to)))
		return OutcomeSkipped
	}
	if !schema.CanTransition(trade.Status, to) {
		log.Warn("stale transition dropped", zap.String("target", string(to)))
		return OutcomeSkipped
	}
	update.Status = to
	update.From = []schema.TradeStatus{trade.Status}
	return r.update(ctx, log, trade, update)
}

func (r *Reconciler) update(ctx context.Context, log *zap.Logger, trade tradestore.Trade, update tradestore.StatusUpdate) Outcome {
	changed, err := r.ledger.UpdateTradeStatus(ctx, trade.ExchangeOrderID, update)
	if err != nil {
		log.Error("ledger update failed", zap.String("target", string(update.Status)), zap.Error(err))
		return OutcomeFailed
	}
	if !changed {
		log.Debug("ledger row moved concurrently", zap.String("target", string(update.Status)))
		return OutcomeSkipped
	}
	log.Info("trade updated", zap.String("target", string(update.Status)))
	return OutcomeApplied
}

func (r *Reconciler) eventTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return r.clock().UTC()
	}
	return ts.UTC()
}

func (r *Reconciler) fanout(ctx context.Context, log *zap.Logger, stream, channel string, raw json.RawMessage, ev any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, channel, payloadOf(raw, ev)); err != nil {
		log.Warn("fan-out publish failed", zap.String("channel", channel), zap.Error(err))
		r.metrics.FanoutFailed(ctx, stream)
	}
}

// payloadOf prefers the exchange payload and falls back to the encoded event.
func payloadOf(raw json.RawMessage, ev any) []byte {
	if len(raw) > 0 {
		return raw
	}
	encoded, err := json.Marshal(ev)
	if err != nil {
		return []byte("{}")
	}
	return encoded
}
