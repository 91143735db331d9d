// Package hyperliquid implements the Hyperliquid user streams. Streams are keyed by wallet
// address and need no request signature.
package hyperliquid

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

const exchangeName = string(schema.ExchangeHyperliquid)

// Adapter speaks the Hyperliquid websocket protocol.
type Adapter struct {
	opts Options
}

// New constructs a Hyperliquid adapter.
func New(opts Options) *Adapter {
	return &Adapter{opts: withDefaults(opts)}
}

func (a *Adapter) Kind() schema.ExchangeKind { return schema.ExchangeHyperliquid }

func (a *Adapter) HeartbeatInterval() time.Duration { return a.opts.Heartbeat }

func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) (shared.Transport, error) {
	return shared.Dial(ctx, exchangeName, a.opts.url(creds.Testnet), shared.DialOptions{})
}

// AuthenticateAndSubscribe subscribes the wallet's order, fill and account streams.
// Topics are ignored; Hyperliquid user streams are account-wide.
func (a *Adapter) AuthenticateAndSubscribe(ctx context.Context, t shared.Transport, creds schema.Credentials, _ []string) error {
	address := strings.ToLower(strings.TrimSpace(creds.WalletAddress))
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		return errs.New(exchangeName, errs.CodeAuth, errs.WithStage("subscribe"), errs.WithMessage("wallet address required"))
	}
	types := []string{subOrderUpdates, subUserFills}
	if !a.opts.DisablePositions {
		types = append(types, subWebData2)
	}
	for _, typ := range types {
		payload, err := json.Marshal(wsRequest{Method: "subscribe", Subscription: &subscription{Type: typ, User: address}})
		if err != nil {
			return fmt.Errorf("encode hyperliquid subscribe: %w", err)
		}
		if err := t.Write(ctx, payload); err != nil {
			return errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("subscribe"), errs.WithField("type", typ), errs.WithCause(err))
		}
	}
	return nil
}

func (a *Adapter) Heartbeat(ctx context.Context, t shared.Transport) error {
	return t.Write(ctx, []byte(`{"method":"ping"}`))
}

func (a *Adapter) ParseMessage(raw []byte) (schema.Frame, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	switch env.Channel {
	case channelPong:
		return schema.Frame{Type: schema.FrameHeartbeat}, nil
	case channelSubscriptionResponse:
		return schema.Frame{Type: schema.FrameSubscribeAck, Detail: string(env.Data)}, nil
	case channelError:
		var msg string
		_ = json.Unmarshal(env.Data, &msg)
		return schema.Frame{}, errs.New(exchangeName, errs.CodeExchange, errs.WithStage("stream"), errs.WithRawMessage(msg))
	case subOrderUpdates:
		return parseOrderUpdates(env.Data)
	case subUserFills:
		return parseUserFills(env.Data)
	case subWebData2:
		return parseWebData2(env.Data)
	default:
		return schema.Frame{Type: schema.FrameUnknown, Detail: env.Channel}, nil
	}
}

func decodeErr(err error) error {
	return errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
}

func parseOrderUpdates(data json.RawMessage) (schema.Frame, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	orders := make([]schema.OrderRaw, 0, len(items))
	for _, item := range items {
		var o wsOrder
		if err := json.Unmarshal(item, &o); err != nil {
			return schema.Frame{}, decodeErr(err)
		}
		// "filled" stays open here: the order carries only its limit price, so the userFills
		// event with the execution price and closedPnl completes the trade.
		state := schema.OrderStateOpen
		switch {
		case o.Status == "rejected" || strings.HasSuffix(o.Status, "Rejected"):
			state = schema.OrderStateRejected
		case o.Status == "canceled" || strings.HasSuffix(o.Status, "Canceled"):
			state = schema.OrderStateCancelled
		}
		total := o.Order.OrigSz.Abs()
		remaining := o.Order.Sz.Abs()
		if o.Status == "filled" {
			remaining = decimal.Zero
		}
		ts := o.StatusTimestamp.Time(o.Order.Timestamp.Time(time.Now()))
		orders = append(orders, schema.OrderRaw{
			OrderID:      o.Order.Oid.String(),
			Contract:     o.Order.Coin,
			State:        state,
			TotalQty:     total,
			FilledQty:    total.Sub(remaining),
			ReduceOnly:   o.Order.ReduceOnly,
			UpdatedAt:    ts,
			Payload:      shared.Clone(item),
		})
	}
	return schema.Frame{Type: schema.FrameOrders, Orders: orders}, nil
}

// parseUserFills maps each fill to a filled order of the fill size. A nonzero closedPnl or a
// "Close" direction marks an exit fill.
func parseUserFills(data json.RawMessage) (schema.Frame, error) {
	var fills wsUserFills
	if err := json.Unmarshal(data, &fills); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	orders := make([]schema.OrderRaw, 0, len(fills.Fills))
	for _, item := range fills.Fills {
		var f wsFill
		if err := json.Unmarshal(item, &f); err != nil {
			return schema.Frame{}, decodeErr(err)
		}
		pnl := f.ClosedPnl.NonZero()
		size := f.Sz.Abs()
		orders = append(orders, schema.OrderRaw{
			OrderID:      f.Oid.String(),
			Contract:     f.Coin,
			State:        schema.OrderStateFilled,
			TotalQty:     size,
			FilledQty:    size,
			AvgFillPrice: f.Px.Decimal,
			ReduceOnly:   pnl.Valid || strings.HasPrefix(f.Dir, "Close"),
			RealizedPnl:  pnl,
			UpdatedAt:    f.Time.Time(time.Now()),
			Snapshot:     fills.IsSnapshot,
			Payload:      shared.Clone(item),
		})
	}
	return schema.Frame{Type: schema.FrameOrders, Orders: orders}, nil
}

// parseWebData2 extracts the full clearinghouse position set.
func parseWebData2(data json.RawMessage) (schema.Frame, error) {
	var wd wsWebData2
	if err := json.Unmarshal(data, &wd); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	if wd.ClearinghouseState == nil {
		return schema.Frame{Type: schema.FrameUnknown, Detail: subWebData2}, nil
	}
	ts := wd.ClearinghouseState.Time.Time(wd.ServerTime.Time(time.Now()))
	positions := make([]schema.PositionRaw, 0, len(wd.ClearinghouseState.AssetPositions))
	for _, ap := range wd.ClearinghouseState.AssetPositions {
		var p wsPosition
		if err := json.Unmarshal(ap.Position, &p); err != nil {
			return schema.Frame{}, decodeErr(err)
		}
		mode := ap.Type
		if mode == "" {
			mode = "oneWay"
		}
		positions = append(positions, schema.PositionRaw{
			Contract:   p.Coin,
			Mode:       mode,
			Size:       p.Szi.Decimal,
			EntryPrice: p.EntryPx.Decimal,
			UpdatedAt:  ts,
			Payload:    shared.Clone(ap.Position),
		})
	}
	return schema.Frame{Type: schema.FramePositions, Positions: positions, PositionsComplete: true}, nil
}
