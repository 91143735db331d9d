// Package gate implements the Gate.io USDT futures user stream: signed per-channel
// subscriptions and JSON application pings.
package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

const exchangeName = string(schema.ExchangeGate)

// Adapter speaks the Gate futures websocket protocol.
type Adapter struct {
	opts Options
}

// New constructs a Gate adapter.
func New(opts Options) *Adapter {
	return &Adapter{opts: withDefaults(opts)}
}

func (a *Adapter) Kind() schema.ExchangeKind { return schema.ExchangeGate }

func (a *Adapter) HeartbeatInterval() time.Duration { return a.opts.Heartbeat }

func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) (shared.Transport, error) {
	return shared.Dial(ctx, exchangeName, a.opts.url(creds.Testnet), shared.DialOptions{})
}

// AuthenticateAndSubscribe sends one signed subscribe per channel and contract. Gate
// acknowledges asynchronously; failures surface as error frames.
func (a *Adapter) AuthenticateAndSubscribe(ctx context.Context, t shared.Transport, creds schema.Credentials, topics []string) error {
	if creds.APIKey == "" || creds.APISecret == "" {
		return errs.New(exchangeName, errs.CodeAuth, errs.WithStage("subscribe"), errs.WithMessage("api key and secret required"))
	}
	uid := strings.TrimSpace(creds.AccountID)
	if uid == "" {
		uid = creds.UserID
	}
	if uid == "" {
		return errs.New(exchangeName, errs.CodeAuth, errs.WithStage("subscribe"), errs.WithMessage("account id required"))
	}
	contracts := topics
	if len(contracts) == 0 {
		contracts = []string{allContracts}
	}
	for _, channel := range []string{channelOrders, channelPositions} {
		for _, contract := range contracts {
			payload, err := json.Marshal(a.subscribeRequest(creds, channel, uid, contract))
			if err != nil {
				return fmt.Errorf("encode gate subscribe: %w", err)
			}
			if err := t.Write(ctx, payload); err != nil {
				return errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("subscribe"), errs.WithField("channel", channel), errs.WithCause(err))
			}
		}
	}
	return nil
}

func (a *Adapter) subscribeRequest(creds schema.Credentials, channel, uid, contract string) wsRequest {
	ts := a.opts.Clock().Unix()
	return wsRequest{
		Time:    ts,
		Channel: channel,
		Event:   "subscribe",
		Payload: []string{uid, contract},
		Auth: &wsAuth{
			Method: "api_key",
			Key:    creds.APIKey,
			Sign:   Sign(creds.APISecret, channel, "subscribe", ts),
		},
	}
}

// Sign produces the Gate websocket channel signature.
func Sign(secret, channel, event string, ts int64) string {
	return shared.SignHMACSHA512Hex(secret, "channel="+channel+"&event="+event+"&time="+strconv.FormatInt(ts, 10))
}

func (a *Adapter) Heartbeat(ctx context.Context, t shared.Transport) error {
	payload, err := json.Marshal(wsRequest{Time: a.opts.Clock().Unix(), Channel: channelPing, Event: "ping"})
	if err != nil {
		return err
	}
	return t.Write(ctx, payload)
}

func (a *Adapter) ParseMessage(raw []byte) (schema.Frame, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
	}
	if env.Error != nil {
		return schema.Frame{}, errs.New(exchangeName, errs.CodeExchange, errs.WithStage(env.Event),
			errs.WithRawCode(strconv.Itoa(env.Error.Code)), errs.WithRawMessage(env.Error.Message),
			errs.WithField("channel", env.Channel))
	}
	if env.Channel == channelPong {
		return schema.Frame{Type: schema.FrameHeartbeat}, nil
	}
	if env.Event == "subscribe" {
		var ack ackResult
		if err := json.Unmarshal(env.Result, &ack); err == nil && ack.Status != "" && ack.Status != "success" {
			return schema.Frame{}, errs.New(exchangeName, errs.CodeExchange, errs.WithStage("subscribe"),
				errs.WithRawMessage(ack.Status), errs.WithField("channel", env.Channel))
		}
		return schema.Frame{Type: schema.FrameSubscribeAck, Detail: env.Channel}, nil
	}
	if env.Event != "update" && env.Event != "all" {
		return schema.Frame{Type: schema.FrameUnknown, Detail: env.Channel + ":" + env.Event}, nil
	}
	fallback := time.Unix(env.Time, 0)
	switch env.Channel {
	case channelOrders:
		var items []json.RawMessage
		if err := decodeList(env.Result, &items); err != nil {
			return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
		}
		orders := make([]schema.OrderRaw, 0, len(items))
		for _, item := range items {
			var o wsOrder
			if err := json.Unmarshal(item, &o); err != nil {
				return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
			}
			orders = append(orders, toOrderRaw(o, item, fallback))
		}
		return schema.Frame{Type: schema.FrameOrders, Orders: orders}, nil
	case channelPositions:
		var items []json.RawMessage
		if err := decodeList(env.Result, &items); err != nil {
			return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
		}
		positions := make([]schema.PositionRaw, 0, len(items))
		for _, item := range items {
			var p wsPosition
			if err := json.Unmarshal(item, &p); err != nil {
				return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
			}
			positions = append(positions, toPositionRaw(p, item, fallback))
		}
		return schema.Frame{Type: schema.FramePositions, Positions: positions}, nil
	default:
		return schema.Frame{Type: schema.FrameUnknown, Detail: env.Channel}, nil
	}
}

// decodeList accepts either a JSON array or a single object.
func decodeList(raw json.RawMessage, out *[]json.RawMessage) error {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(raw, out)
	}
	*out = []json.RawMessage{raw}
	return nil
}

func toOrderRaw(o wsOrder, raw []byte, fallback time.Time) schema.OrderRaw {
	id := strings.TrimSpace(o.IDString)
	if id == "" {
		id = o.ID.String()
	}
	linked := o.LinkedOpenOrderID.String()
	if linked == "" || linked == "0" {
		linked = o.RelatedID.String()
	}
	if linked == "0" {
		linked = ""
	}
	total := o.Size.Abs()
	left := o.Left.Abs()
	state := schema.OrderStateOpen
	reduce := o.IsReduceOnly || o.IsClose
	if o.Status == "finished" {
		switch o.FinishAs {
		case "filled":
			state = schema.OrderStateFilled
		case "liquidated", "auto_deleveraged":
			state = schema.OrderStateFilled
			reduce = true
		default:
			state = schema.OrderStateCancelled
		}
	}
	ts := o.FinishTimeMs.Time(time.Time{})
	if ts.IsZero() {
		ts = o.CreateTimeMs.Time(fallback)
	}
	return schema.OrderRaw{
		OrderID:       id,
		LinkedOrderID: linked,
		Contract:      o.Contract,
		State:         state,
		TotalQty:      total,
		FilledQty:     total.Sub(left),
		AvgFillPrice:  o.FillPrice.Decimal,
		ReduceOnly:    reduce,
		UpdatedAt:     ts,
		Payload:       shared.Clone(raw),
	}
}

func toPositionRaw(p wsPosition, raw []byte, fallback time.Time) schema.PositionRaw {
	mode := p.Mode
	if mode == "" {
		mode = p.PositionSide
	}
	return schema.PositionRaw{
		Contract:    p.Contract,
		Mode:        mode,
		Size:        p.Size.Decimal,
		EntryPrice:  p.EntryPrice.Decimal,
		RealizedPnl: p.RealisedPnl.Nullable(),
		UpdatedAt:   p.TimeMs.Time(fallback),
		Payload:     shared.Clone(raw),
	}
}
