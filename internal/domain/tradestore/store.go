// Package tradestore defines the trade ledger contract consumed by the reconciler.
package tradestore

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

// ErrTradeNotFound reports that no trade is linked to the requested order id.
var ErrTradeNotFound = errors.New("tradestore: trade not found")

// Trade is the ledger view of a trade record. Fields outside the reconciler-owned set are
// populated by the order entry layer and are read-only here.
type Trade struct {
	ID              int64
	UserID          string
	Exchange        schema.ExchangeKind
	ExchangeOrderID string
	CloseOrderID    string
	Contract        string
	Status          schema.TradeStatus

	TakeProfitEnabled  bool
	TakeProfitExecuted bool
	StopLossEnabled    bool
	StopLossExecuted   bool

	RemainingQty   decimal.NullDecimal
	OpenFillPrice  decimal.NullDecimal
	OpenFilledAt   *time.Time
	CloseFillPrice decimal.NullDecimal
	CloseFilledAt  *time.Time
	RealizedPnl    decimal.NullDecimal
	ClosedAt       *time.Time
	TargetsArmed   bool
	UpdatedAt      time.Time
}

// StatusUpdate carries the reconciler-owned columns. Nil fields are left untouched.
type StatusUpdate struct {
	Status schema.TradeStatus
	// From restricts the update to trades currently in one of these statuses.
	From []schema.TradeStatus

	RemainingQty   *decimal.Decimal
	OpenFillPrice  *decimal.Decimal
	OpenFilledAt   *time.Time
	CloseFillPrice *decimal.Decimal
	CloseFilledAt  *time.Time
	RealizedPnl    *decimal.Decimal
	ClosedAt       *time.Time
	TargetsArmed   *bool
}

// Ledger is the durable trade store.
type Ledger interface {
	FindTradeByExchangeOrderID(ctx context.Context, exchangeOrderID string) (Trade, error)
	FindTradeByCloseOrderID(ctx context.Context, closeOrderID string) (Trade, error)
	FindTradesByUserContractStatus(ctx context.Context, userID, contract string, statuses ...schema.TradeStatus) ([]Trade, error)
	// UpdateTradeStatus applies update unless the trade is terminal or outside update.From.
	// The boolean reports whether a row changed.
	UpdateTradeStatus(ctx context.Context, exchangeOrderID string, update StatusUpdate) (bool, error)
}

func statusIn(status schema.TradeStatus, set []schema.TradeStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// Applicable reports whether update may be applied to a trade in status current.
func (u StatusUpdate) Applicable(current schema.TradeStatus) bool {
	if current.Terminal() {
		return false
	}
	return len(u.From) == 0 || statusIn(current, u.From)
}
