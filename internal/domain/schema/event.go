package schema

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// OrderKind classifies a normalized order event.
type OrderKind string

const (
	OrderAck         OrderKind = "ack"
	OrderPartialFill OrderKind = "partial_fill"
	OrderFilledOpen  OrderKind = "filled_open"
	OrderFilledClose OrderKind = "filled_close"
	OrderCancelled   OrderKind = "cancelled"
	OrderOther       OrderKind = "other"
)

// OrderEvent is an order update in exchange-agnostic form.
type OrderEvent struct {
	Exchange        ExchangeKind
	ExchangeOrderID string
	LinkedOrderID   string
	Contract        string
	Kind            OrderKind
	FilledQty       decimal.Decimal
	RemainingQty    decimal.Decimal
	AvgFillPrice    decimal.Decimal
	RealizedPnl     decimal.NullDecimal
	EventTime       time.Time
	IsSnapshot      bool
	RawPayload      json.RawMessage
}

// PositionKind classifies a normalized position event.
type PositionKind string

const (
	PositionOpened    PositionKind = "opened"
	PositionChanged   PositionKind = "changed"
	PositionClosed    PositionKind = "closed"
	PositionHeartbeat PositionKind = "heartbeat"
)

// PositionEvent is a position update in exchange-agnostic form.
type PositionEvent struct {
	Exchange     ExchangeKind
	Contract     string
	PositionMode string
	Kind         PositionKind
	Size         decimal.Decimal
	EntryPrice   decimal.Decimal
	RealizedPnl  decimal.NullDecimal
	EventTime    time.Time
	IsSnapshot   bool
	RawPayload   json.RawMessage
}
