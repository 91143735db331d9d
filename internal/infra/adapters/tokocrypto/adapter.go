// Package tokocrypto implements the Tokocrypto futures user data stream, a Binance-style
// listen key stream over the combined stream endpoint.
package tokocrypto

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
)

const exchangeName = string(schema.ExchangeTokocrypto)

// Adapter speaks the Tokocrypto user data stream protocol.
type Adapter struct {
	opts Options
	dial func(ctx context.Context, url string) (shared.Transport, error)
}

// New constructs a Tokocrypto adapter.
func New(opts Options) *Adapter {
	return &Adapter{
		opts: withDefaults(opts),
		dial: func(ctx context.Context, url string) (shared.Transport, error) {
			return shared.Dial(ctx, exchangeName, url, shared.DialOptions{})
		},
	}
}

func (a *Adapter) Kind() schema.ExchangeKind { return schema.ExchangeTokocrypto }

func (a *Adapter) HeartbeatInterval() time.Duration { return a.opts.Heartbeat }

// userStream binds a transport to the listen key it was opened for.
type userStream struct {
	shared.Transport
	listenKey string
	creds     schema.Credentials

	mu            sync.Mutex
	lastKeepAlive time.Time
}

// Connect obtains a listen key over REST and dials the stream endpoint.
func (a *Adapter) Connect(ctx context.Context, creds schema.Credentials) (shared.Transport, error) {
	streamURL := a.opts.streamURL(creds.Testnet)
	if streamURL == "" {
		return nil, errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("connect"), errs.WithMessage("testnet not configured"))
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, errs.New(exchangeName, errs.CodeAuth, errs.WithStage("listen_key"), errs.WithMessage("api key and secret required"))
	}
	listenKey, err := a.listenKey(ctx, http.MethodPost, creds, "")
	if err != nil {
		return nil, err
	}
	t, err := a.dial(ctx, streamURL)
	if err != nil {
		return nil, err
	}
	return &userStream{Transport: t, listenKey: listenKey, creds: creds, lastKeepAlive: a.opts.Clock()}, nil
}

// AuthenticateAndSubscribe subscribes the listen key stream plus any extra topics.
func (a *Adapter) AuthenticateAndSubscribe(ctx context.Context, t shared.Transport, _ schema.Credentials, topics []string) error {
	us, ok := t.(*userStream)
	if !ok {
		return errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("subscribe"), errs.WithMessage("transport not opened by this adapter"))
	}
	params := []string{us.listenKey}
	for _, topic := range topics {
		if topic = strings.TrimSpace(topic); topic != "" {
			params = append(params, strings.ToLower(topic))
		}
	}
	payload, err := json.Marshal(subscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1})
	if err != nil {
		return fmt.Errorf("encode tokocrypto subscribe: %w", err)
	}
	if err := t.Write(ctx, payload); err != nil {
		return errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("subscribe"), errs.WithCause(err))
	}
	return nil
}

// Heartbeat pings the socket and extends the listen key once KeepAlive has elapsed.
func (a *Adapter) Heartbeat(ctx context.Context, t shared.Transport) error {
	if err := t.Ping(ctx); err != nil {
		return err
	}
	us, ok := t.(*userStream)
	if !ok {
		return nil
	}
	now := a.opts.Clock()
	us.mu.Lock()
	due := now.Sub(us.lastKeepAlive) >= a.opts.KeepAlive
	us.mu.Unlock()
	if !due {
		return nil
	}
	if _, err := a.listenKey(ctx, http.MethodPut, us.creds, us.listenKey); err != nil {
		return err
	}
	us.mu.Lock()
	us.lastKeepAlive = now
	us.mu.Unlock()
	return nil
}

// listenKey issues a signed listen key request. POST creates a key; PUT extends key.
func (a *Adapter) listenKey(ctx context.Context, method string, creds schema.Credentials, key string) (string, error) {
	endpoint := a.opts.listenKeyEndpoint(creds.Testnet)
	if endpoint == "" {
		return "", errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("listen_key"), errs.WithMessage("testnet not configured"))
	}
	params := url.Values{}
	if key != "" {
		params.Set("listenKey", key)
	}
	params.Set("recvWindow", strconv.FormatInt(a.opts.RecvWindow.Milliseconds(), 10))
	params.Set("timestamp", strconv.FormatInt(a.opts.Clock().UTC().UnixMilli(), 10))
	params.Set("signature", shared.SignHMACSHA256Hex(creds.APISecret, params.Encode()))

	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return "", fmt.Errorf("create listen key request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", creds.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return "", errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("listen_key"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errs.New(exchangeName, errs.CodeNetwork, errs.WithStage("listen_key"), errs.WithCause(err))
	}
	var out listenKeyResponse
	_ = json.Unmarshal(body, &out)
	if resp.StatusCode >= http.StatusBadRequest || (out.Code != nil && *out.Code != 0) {
		code := errs.CodeExchange
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			code = errs.CodeAuth
		}
		rawCode := strconv.Itoa(resp.StatusCode)
		if out.Code != nil {
			rawCode = strconv.Itoa(*out.Code)
		}
		return "", errs.New(exchangeName, code, errs.WithStage("listen_key"), errs.WithRawCode(rawCode), errs.WithRawMessage(out.Msg))
	}
	if method == http.MethodPut {
		return key, nil
	}
	if out.key() == "" {
		return "", errs.New(exchangeName, errs.CodeExchange, errs.WithStage("listen_key"), errs.WithMessage("empty listen key"))
	}
	return out.key(), nil
}

func (a *Adapter) ParseMessage(raw []byte) (schema.Frame, error) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	if env.ID != nil {
		if env.Code != nil && *env.Code != 0 {
			return schema.Frame{}, errs.New(exchangeName, errs.CodeExchange, errs.WithStage("subscribe"),
				errs.WithRawCode(strconv.Itoa(*env.Code)), errs.WithRawMessage(env.Msg))
		}
		return schema.Frame{Type: schema.FrameSubscribeAck, Detail: string(env.Result)}, nil
	}
	data := json.RawMessage(raw)
	if len(env.Data) > 0 {
		data = env.Data
	}
	var header wsEventHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	switch header.Event {
	case eventOrderTradeUpdate:
		return parseOrderUpdate(data)
	case eventAccountUpdate:
		return parseAccountUpdate(data)
	case eventListenKeyExpired:
		return schema.Frame{Type: schema.FrameUnknown, Reconnect: true, Detail: eventListenKeyExpired}, nil
	default:
		return schema.Frame{Type: schema.FrameUnknown, Detail: header.Event}, nil
	}
}

func decodeErr(err error) error {
	return errs.New(exchangeName, errs.CodeInvalid, errs.WithStage("decode"), errs.WithCause(err))
}

func parseOrderUpdate(data json.RawMessage) (schema.Frame, error) {
	var upd wsOrderUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	var o wsOrder
	if err := json.Unmarshal(upd.Order, &o); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	state := schema.OrderStateOpen
	switch strings.ToUpper(o.Status) {
	case "FILLED":
		state = schema.OrderStateFilled
	case "CANCELED", "CANCELLED", "EXPIRED":
		state = schema.OrderStateCancelled
	case "REJECTED":
		state = schema.OrderStateRejected
	}
	price := o.AvgPrice.Decimal
	if price.IsZero() {
		price = o.LastPrice.Decimal
	}
	ts := o.TradeTime.Time(upd.TxTime.Time(upd.EventTime.Time(time.Now())))
	order := schema.OrderRaw{
		OrderID:      o.OrderID.String(),
		Contract:     o.Symbol,
		State:        state,
		TotalQty:     o.OrigQty.Abs(),
		FilledQty:    o.FilledQty.Abs(),
		AvgFillPrice: price,
		ReduceOnly:   o.ReduceOnly || o.ClosePosition,
		RealizedPnl:  o.RealizedPnl.NonZero(),
		UpdatedAt:    ts,
		Payload:      shared.Clone(upd.Order),
	}
	return schema.Frame{Type: schema.FrameOrders, Orders: []schema.OrderRaw{order}}, nil
}

func parseAccountUpdate(data json.RawMessage) (schema.Frame, error) {
	var upd wsAccountUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return schema.Frame{}, decodeErr(err)
	}
	ts := upd.TxTime.Time(upd.EventTime.Time(time.Now()))
	positions := make([]schema.PositionRaw, 0, len(upd.Account.Positions))
	for _, item := range upd.Account.Positions {
		var p wsPosition
		if err := json.Unmarshal(item, &p); err != nil {
			return schema.Frame{}, decodeErr(err)
		}
		mode := p.PositionSide
		if mode == "" {
			mode = "BOTH"
		}
		positions = append(positions, schema.PositionRaw{
			Contract:    p.Symbol,
			Mode:        mode,
			Size:        p.Amount.Decimal,
			EntryPrice:  p.EntryPrice.Decimal,
			RealizedPnl: p.RealizedPnl.NonZero(),
			UpdatedAt:   ts,
			Payload:     shared.Clone(item),
		})
	}
	return schema.Frame{Type: schema.FramePositions, Positions: positions}, nil
}
