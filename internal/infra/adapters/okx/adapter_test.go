package okx

import (
	"context"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
	"github.com/coachpo/tradelink/internal/testutil"
)

var okxCreds = schema.Credentials{APIKey: "key", APISecret: "secret", Passphrase: "pass"}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func replyToLogin(reply string) func(*testutil.FakeTransport, []byte) {
	return func(f *testutil.FakeTransport, payload []byte) {
		if strings.Contains(string(payload), `"op":"login"`) {
			f.Push([]byte(`{"event":"subscribe","arg":{"channel":"noise"}}`))
			f.Push([]byte(reply))
		}
	}
}

func TestLoginThenSubscribe(t *testing.T) {
	a := New(Options{Clock: fixedClock})
	tr := testutil.NewFakeTransport(4)
	tr.OnWrite = replyToLogin(`{"event":"login","code":"0","msg":""}`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.AuthenticateAndSubscribe(ctx, tr, okxCreds, nil))

	writes := tr.Writes()
	require.Len(t, writes, 2)

	var login loginRequest
	require.NoError(t, json.Unmarshal(writes[0], &login))
	require.Equal(t, "login", login.Op)
	require.Equal(t, "1700000000", login.Args[0].Timestamp)
	require.Equal(t, shared.SignHMACSHA256Base64("secret", "1700000000GET/users/self/verify"), login.Args[0].Sign)
	require.Equal(t, "pass", login.Args[0].Passphrase)

	var sub wsRequest
	require.NoError(t, json.Unmarshal(writes[1], &sub))
	require.Equal(t, "subscribe", sub.Op)
	require.Equal(t, []wsArgument{
		{Channel: "orders", InstType: "SWAP"},
		{Channel: "positions", InstType: "SWAP"},
	}, sub.Args)
}

func TestSubscribeScopesInstruments(t *testing.T) {
	a := New(Options{})
	args := a.subscriptionArgs([]string{"btc-usdt-swap"})
	require.Equal(t, []wsArgument{
		{Channel: "orders", InstType: "SWAP", InstID: "BTC-USDT-SWAP"},
		{Channel: "positions", InstType: "SWAP", InstID: "BTC-USDT-SWAP"},
	}, args)
}

func TestLoginRejected(t *testing.T) {
	a := New(Options{Clock: fixedClock})
	tr := testutil.NewFakeTransport(4)
	tr.OnWrite = replyToLogin(`{"event":"error","code":"60009","msg":"Login failed."}`)

	err := a.AuthenticateAndSubscribe(context.Background(), tr, okxCreds, nil)
	require.True(t, errs.Is(err, errs.CodeAuth))
	require.Len(t, tr.Writes(), 1)
}

func TestLoginTimesOut(t *testing.T) {
	a := New(Options{})
	tr := testutil.NewFakeTransport(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.AuthenticateAndSubscribe(ctx, tr, okxCreds, nil)
	require.True(t, errs.Is(err, errs.CodeTimeout))
}

func TestLoginRequiresPassphrase(t *testing.T) {
	a := New(Options{})
	err := a.AuthenticateAndSubscribe(context.Background(), testutil.NewFakeTransport(1), schema.Credentials{APIKey: "k", APISecret: "s"}, nil)
	require.True(t, errs.Is(err, errs.CodeAuth))
}

func TestParseOrders(t *testing.T) {
	a := New(Options{})
	raw := []byte(`{"arg":{"channel":"orders","instType":"SWAP","uid":"1"},"data":[
		{"instId":"BTC-USDT-SWAP","ordId":"312269865356374016","sz":"2","accFillSz":"2","avgPx":"30000.1",
		 "state":"filled","reduceOnly":"false","pnl":"0","uTime":"1700000000123"},
		{"instId":"BTC-USDT-SWAP","ordId":"312269865356374017","sz":"2","accFillSz":"2","avgPx":"30100",
		 "state":"filled","reduceOnly":"false","pnl":"200","uTime":"1700000000456"},
		{"instId":"BTC-USDT-SWAP","ordId":"3","sz":"2","accFillSz":"","avgPx":"","state":"canceled","reduceOnly":"false","pnl":"","uTime":""}]}`)

	frame, err := a.ParseMessage(raw)
	require.NoError(t, err)
	require.Equal(t, schema.FrameOrders, frame.Type)
	require.Len(t, frame.Orders, 3)

	open := frame.Orders[0]
	require.Equal(t, "312269865356374016", open.OrderID)
	require.Equal(t, schema.OrderStateFilled, open.State)
	require.False(t, open.ReduceOnly)
	require.False(t, open.RealizedPnl.Valid)
	require.Equal(t, int64(1700000000123), open.UpdatedAt.UnixMilli())

	closing := frame.Orders[1]
	require.True(t, closing.ReduceOnly)
	require.Equal(t, "200", closing.RealizedPnl.Decimal.String())

	cancelled := frame.Orders[2]
	require.Equal(t, schema.OrderStateCancelled, cancelled.State)
	require.True(t, cancelled.FilledQty.IsZero())
}

func TestParsePositionsAndControl(t *testing.T) {
	a := New(Options{})
	frame, err := a.ParseMessage([]byte(`{"arg":{"channel":"positions","instType":"SWAP"},"data":[
		{"instId":"ETH-USDT-SWAP","posSide":"net","pos":"-3","avgPx":"2000","realizedPnl":"1.5","uTime":"1700000000000"}]}`))
	require.NoError(t, err)
	require.Equal(t, schema.FramePositions, frame.Type)
	require.Equal(t, "ETH-USDT-SWAP:net", frame.Positions[0].Key())
	require.Equal(t, "-3", frame.Positions[0].Size.String())

	frame, err = a.ParseMessage([]byte("pong"))
	require.NoError(t, err)
	require.Equal(t, schema.FrameHeartbeat, frame.Type)

	frame, err = a.ParseMessage([]byte(`{"event":"subscribe","arg":{"channel":"orders"}}`))
	require.NoError(t, err)
	require.Equal(t, schema.FrameSubscribeAck, frame.Type)

	_, err = a.ParseMessage([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`))
	require.True(t, errs.Is(err, errs.CodeExchange))

	frame, err = a.ParseMessage([]byte(`{"event":"notice","msg":"service upgrade"}`))
	require.NoError(t, err)
	require.Equal(t, schema.FrameUnknown, frame.Type)
}

func TestHeartbeatWritesPing(t *testing.T) {
	a := New(Options{})
	tr := testutil.NewFakeTransport(1)
	require.NoError(t, a.Heartbeat(context.Background(), tr))
	require.Equal(t, "ping", string(tr.Writes()[0]))
}
