// Package okx implements the OKX v5 private websocket: signed login, then order and
// position subscriptions.
package okx

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

const (
	exchangeName     = string(schema.ExchangeOKX)
	channelOrders    = "orders"
	channelPositions = "positions"
	verifyPath       = "/users/self/verify"
)

// Adapter speaks the OKX private websocket protocol.
type Adapter struct {
	opts Options
}

// New constructs an OKX adapter.
func New(opts Options) *Adapter {
	return &Adapter{opts: withDefaults(opts)}
}

func (a *Adapter) Kind() schema.ExchangeKind { return schema.ExchangeOKX }

func (a *Adapter) HeartbeatInterval() time.Duration { return a.opts.Heartbeat }

func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) (shared.Transport, error) {
	return shared.Dial(ctx, exchangeName, a.opts.url(creds.Testnet), shared.DialOptions{})
}

// Sign produces the OKX login signature for a unix-seconds timestamp.
func Sign(secret, timestamp string) string {
	return shared.SignHMACSHA256Base64(secret, timestamp+"GET"+verifyPath)
}

// AuthenticateAndSubscribe logs in, waits for the login acknowledgement and then subscribes.
// Frames other than the login reply that arrive before it are discarded.
func (a *Adapter) AuthenticateAndSubscribe(ctx context.Context, t shared.Transport, creds schema.Credentials, topics []string) error {
	if creds.APIKey == "" || creds.APISecret == "" || creds.Passphrase == "" {
		return errs.New(exchangeName, errs.CodeAuth, errs.WithStage("login"), errs.WithMessage("api key, secret and passphrase required"))
	}
	ts := strconv.FormatInt(a.opts.Clock().Unix(), 10)
	login, err := json.Marshal(loginRequest{
		Op: "login",
		Args: []loginArg{{
			APIKey:     creds.APIKey,
			Passphrase: creds.Passphrase,
			Timestamp:  ts,
			Sign:       Sign(creds.APISecret, ts),
		}},
	})
	if err != nil {
		return fmt.Errorf("encode okx login: %w", err)
	}
	if err := t.Write(ctx, login); err != nil {
		return errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("login"), errs.WithCause(err))
	}
	if err := awaitLogin(ctx, t); err != nil {
		return err
	}

	sub, err := json.Marshal(wsRequest{Op: "subscribe", Args: a.subscriptionArgs(topics)})
	if err != nil {
		return fmt.Errorf("encode okx subscribe: %w", err)
	}
	if err := t.Write(ctx, sub); err != nil {
		return errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("subscribe"), errs.WithCause(err))
	}
	return nil
}

func awaitLogin(ctx context.Context, t shared.Transport) error {
	for {
		raw, err := t.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errs.New(exchangeName, errs.CodeTimeout, errs.WithStage("login"), errs.WithCause(err))
			}
			return errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("login"), errs.WithCause(err))
		}
		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Event {
		case "login":
			if env.Code != "" && env.Code != "0" {
				return errs.New(exchangeName, errs.CodeAuth, errs.WithStage("login"), errs.WithRawCode(env.Code), errs.WithRawMessage(env.Msg))
			}
			return nil
		case "error":
			return errs.New(exchangeName, errs.CodeAuth, errs.WithStage("login"), errs.WithRawCode(env.Code), errs.WithRawMessage(env.Msg))
		}
	}
}

func (a *Adapter) subscriptionArgs(topics []string) []wsArgument {
	args := make([]wsArgument, 0, 2*max(1, len(topics)))
	for _, channel := range []string{channelOrders, channelPositions} {
		if len(topics) == 0 {
			args = append(args, wsArgument{Channel: channel, InstType: a.opts.InstType})
			continue
		}
		for _, inst := range topics {
			args = append(args, wsArgument{Channel: channel, InstType: a.opts.InstType, InstID: strings.ToUpper(inst)})
		}
	}
	return args
}

func (a *Adapter) Heartbeat(ctx context.Context, t shared.Transport) error {
	return t.Write(ctx, []byte("ping"))
}

func (a *Adapter) ParseMessage(raw []byte) (schema.Frame, error) {
	if strings.TrimSpace(string(raw)) == "pong" {
		return schema.Frame{Type: schema.FrameHeartbeat}, nil
	}
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
	}
	switch env.Event {
	case "login", "subscribe", "channel-conn-count":
		return schema.Frame{Type: schema.FrameSubscribeAck, Detail: env.Event + ":" + env.Arg.Channel}, nil
	case "error":
		return schema.Frame{}, errs.New(exchangeName, errs.CodeExchange, errs.WithStage("stream"), errs.WithRawCode(env.Code), errs.WithRawMessage(env.Msg))
	case "":
	default:
		return schema.Frame{Type: schema.FrameUnknown, Detail: env.Event}, nil
	}

	switch env.Arg.Channel {
	case channelOrders:
		orders := make([]schema.OrderRaw, 0, len(env.Data))
		for _, item := range env.Data {
			var o wsOrder
			if err := json.Unmarshal(item, &o); err != nil {
				return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
			}
			orders = append(orders, toOrderRaw(o, item))
		}
		return schema.Frame{Type: schema.FrameOrders, Orders: orders}, nil
	case channelPositions:
		positions := make([]schema.PositionRaw, 0, len(env.Data))
		for _, item := range env.Data {
			var p wsPosition
			if err := json.Unmarshal(item, &p); err != nil {
				return schema.Frame{}, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
			}
			positions = append(positions, toPositionRaw(p, item))
		}
		return schema.Frame{Type: schema.FramePositions, Positions: positions}, nil
	default:
		return schema.Frame{Type: schema.FrameUnknown, Detail: env.Arg.Channel}, nil
	}
}

func toOrderRaw(o wsOrder, raw []byte) schema.OrderRaw {
	state := schema.OrderStateOpen
	switch o.State {
	case "filled":
		state = schema.OrderStateFilled
	case "canceled", "mmp_canceled":
		state = schema.OrderStateCancelled
	}
	pnl := o.Pnl.NonZero()
	ts := o.UTime.Time(time.Time{})
	if ts.IsZero() {
		ts = o.FillTime.Time(time.Now())
	}
	return schema.OrderRaw{
		OrderID:       o.OrdID,
		LinkedOrderID: o.AlgoID,
		Contract:      o.InstID,
		State:         state,
		TotalQty:      o.Sz.Abs(),
		FilledQty:     o.AccFillSz.Abs(),
		AvgFillPrice:  o.AvgPx.Decimal,
		ReduceOnly:    o.ReduceOnly == "true" || pnl.Valid,
		RealizedPnl:   pnl,
		UpdatedAt:     ts,
		Payload:       shared.Clone(raw),
	}
}

func toPositionRaw(p wsPosition, raw []byte) schema.PositionRaw {
	return schema.PositionRaw{
		Contract:    p.InstID,
		Mode:        p.PosSide,
		Size:        p.Pos.Decimal,
		EntryPrice:  p.AvgPx.Decimal,
		RealizedPnl: p.RealizedPnl.Nullable(),
		UpdatedAt:   p.UTime.Time(time.Now()),
		Payload:     shared.Clone(raw),
	}
}
