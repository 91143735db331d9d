package schema

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// FrameType is the shape of a parsed inbound exchange message.
type FrameType uint8

const (
	// FrameUnknown marks messages the adapter does not recognize.
	FrameUnknown FrameType = iota
	// FrameSubscribeAck confirms a login or subscription.
	FrameSubscribeAck
	// FrameHeartbeat is a keep-alive reply.
	FrameHeartbeat
	// FrameOrders carries one or more order updates.
	FrameOrders
	// FramePositions carries one or more position updates.
	FramePositions
)

func (t FrameType) String() string {
	switch t {
	case FrameSubscribeAck:
		return "subscribe_ack"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameOrders:
		return "orders"
	case FramePositions:
		return "positions"
	default:
		return "unknown"
	}
}

// Frame is the exchange-agnostic result of parsing one inbound message.
type Frame struct {
	Type      FrameType
	Orders    []OrderRaw
	Positions []PositionRaw
	// PositionsComplete reports that Positions is the full position set of the account.
	PositionsComplete bool
	// Reconnect asks the owner to drop and reopen the connection.
	Reconnect bool
	Detail    string
}

// OrderState is the lifecycle state reported by the exchange.
type OrderState uint8

const (
	// OrderStateOpen is any non-terminal state.
	OrderStateOpen OrderState = iota
	// OrderStateFilled is a terminal, fully executed order.
	OrderStateFilled
	// OrderStateCancelled is a terminal, cancelled or expired order.
	OrderStateCancelled
	// OrderStateRejected is a terminal order refused by the exchange.
	OrderStateRejected
)

// Terminal reports whether the exchange will emit no further updates for the order.
func (s OrderState) Terminal() bool { return s != OrderStateOpen }

// OrderRaw is an order update decoded from an exchange frame.
type OrderRaw struct {
	OrderID       string
	LinkedOrderID string
	Contract      string
	State         OrderState
	TotalQty      decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	ReduceOnly    bool
	RealizedPnl   decimal.NullDecimal
	UpdatedAt     time.Time
	Snapshot      bool
	Payload       json.RawMessage
}

// Remaining returns the unfilled quantity, never negative.
func (o OrderRaw) Remaining() decimal.Decimal {
	rem := o.TotalQty.Abs().Sub(o.FilledQty.Abs())
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// PositionRaw is a position update decoded from an exchange frame.
type PositionRaw struct {
	Contract    string
	Mode        string
	Size        decimal.Decimal
	EntryPrice  decimal.Decimal
	RealizedPnl decimal.NullDecimal
	UpdatedAt   time.Time
	Snapshot    bool
	Payload     json.RawMessage
}

// Key returns the {contract}:{mode} cache field for the position.
func (p PositionRaw) Key() string {
	return PositionKey(p.Contract, p.Mode)
}

// PositionKey builds the cache field for a contract and position mode.
func PositionKey(contract, mode string) string {
	return contract + ":" + mode
}

// PositionSnapshot is the cached last-known state of a position.
type PositionSnapshot struct {
	Exchange   ExchangeKind    `json:"exchange"`
	Contract   string          `json:"contract"`
	Mode       string          `json:"mode"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Key returns the cache field of the snapshot.
func (s PositionSnapshot) Key() string {
	return PositionKey(s.Contract, s.Mode)
}

// SnapshotOf converts a raw position into its cache representation.
func SnapshotOf(kind ExchangeKind, p PositionRaw) PositionSnapshot {
	return PositionSnapshot{
		Exchange:   kind,
		Contract:   p.Contract,
		Mode:       p.Mode,
		Size:       p.Size,
		EntryPrice: p.EntryPrice,
		UpdatedAt:  p.UpdatedAt,
		Payload:    p.Payload,
	}
}
