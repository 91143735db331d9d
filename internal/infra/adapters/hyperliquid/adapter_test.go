package hyperliquid

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/testutil"
)

const wallet = "0xAbCDEF0123456789abcdef0123456789ABCDEF01"

func TestSubscribeUsesWalletAddress(t *testing.T) {
	a := New(Options{})
	tr := testutil.NewFakeTransport(1)

	require.NoError(t, a.AuthenticateAndSubscribe(context.Background(), tr, schema.Credentials{WalletAddress: wallet}, []string{"ignored"}))

	writes := tr.Writes()
	require.Len(t, writes, 3)
	var types []string
	for _, w := range writes {
		var req wsRequest
		require.NoError(t, json.Unmarshal(w, &req))
		require.Equal(t, "subscribe", req.Method)
		require.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", req.Subscription.User)
		types = append(types, req.Subscription.Type)
	}
	require.Equal(t, []string{"orderUpdates", "userFills", "webData2"}, types)
}

func TestSubscribeWithoutPositions(t *testing.T) {
	a := New(Options{DisablePositions: true})
	tr := testutil.NewFakeTransport(1)
	require.NoError(t, a.AuthenticateAndSubscribe(context.Background(), tr, schema.Credentials{WalletAddress: wallet}, nil))
	require.Len(t, tr.Writes(), 2)
}

func TestSubscribeRequiresWallet(t *testing.T) {
	a := New(Options{})
	tr := testutil.NewFakeTransport(1)
	err := a.AuthenticateAndSubscribe(context.Background(), tr, schema.Credentials{APIKey: "k"}, nil)
	require.True(t, errs.Is(err, errs.CodeAuth))
	require.Empty(t, tr.Writes())
}

func TestHeartbeatAndURLs(t *testing.T) {
	a := New(Options{})
	require.Equal(t, 30*time.Second, a.HeartbeatInterval())
	require.Equal(t, schema.ExchangeHyperliquid, a.Kind())
	require.Equal(t, defaultTestnetURL, a.opts.url(true))
	require.Equal(t, defaultMainnetURL, a.opts.url(false))

	tr := testutil.NewFakeTransport(1)
	require.NoError(t, a.Heartbeat(context.Background(), tr))
	require.Equal(t, `{"method":"ping"}`, string(tr.Writes()[0]))
}

func TestParseControlFrames(t *testing.T) {
	a := New(Options{})

	frame, err := a.ParseMessage([]byte(`{"channel":"pong"}`))
	require.NoError(t, err)
	require.Equal(t, schema.FrameHeartbeat, frame.Type)

	frame, err = a.ParseMessage([]byte(`{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`))
	require.NoError(t, err)
	require.Equal(t, schema.FrameSubscribeAck, frame.Type)

	_, err = a.ParseMessage([]byte(`{"channel":"error","data":"Invalid subscription"}`))
	require.True(t, errs.Is(err, errs.CodeExchange))

	frame, err = a.ParseMessage([]byte(`{"channel":"notification","data":{}}`))
	require.NoError(t, err)
	require.Equal(t, schema.FrameUnknown, frame.Type)

	_, err = a.ParseMessage([]byte(`{not json`))
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestParseOrderUpdates(t *testing.T) {
	a := New(Options{})
	raw := `{"channel":"orderUpdates","data":[
		{"order":{"coin":"BTC","side":"B","limitPx":"65000","sz":"0.4","oid":101,"timestamp":1700000000000,"origSz":"1.0"},"status":"open","statusTimestamp":1700000001000},
		{"order":{"coin":"ETH","side":"A","limitPx":"3000","sz":"0.0","oid":102,"timestamp":1700000000000,"origSz":"2"},"status":"filled","statusTimestamp":1700000002000},
		{"order":{"coin":"SOL","side":"B","limitPx":"150","sz":"5","oid":103,"timestamp":1700000000000,"origSz":"5"},"status":"marginCanceled","statusTimestamp":1700000003000},
		{"order":{"coin":"SOL","side":"B","limitPx":"150","sz":"5","oid":104,"timestamp":1700000000000,"origSz":"5"},"status":"rejected","statusTimestamp":0}
	]}`
	frame, err := a.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, schema.FrameOrders, frame.Type)
	require.Len(t, frame.Orders, 4)

	open := frame.Orders[0]
	require.Equal(t, "101", open.OrderID)
	require.Equal(t, schema.OrderStateOpen, open.State)
	require.True(t, decimal.RequireFromString("0.6").Equal(open.FilledQty))
	require.True(t, decimal.RequireFromString("1").Equal(open.TotalQty))
	require.Equal(t, time.UnixMilli(1700000001000).UTC(), open.UpdatedAt)

	filled := frame.Orders[1]
	require.Equal(t, schema.OrderStateOpen, filled.State)
	require.True(t, filled.FilledQty.Equal(filled.TotalQty))
	require.True(t, filled.AvgFillPrice.IsZero())
	require.False(t, filled.ReduceOnly)

	require.Equal(t, schema.OrderStateCancelled, frame.Orders[2].State)
	require.Equal(t, schema.OrderStateRejected, frame.Orders[3].State)
	require.Equal(t, time.UnixMilli(1700000000000).UTC(), frame.Orders[3].UpdatedAt)
}

func TestParseUserFills(t *testing.T) {
	a := New(Options{})
	raw := `{"channel":"userFills","data":{"isSnapshot":false,"user":"0xabc","fills":[
		{"coin":"BTC","px":"65100","sz":"1","side":"B","time":1700000005000,"oid":201,"closedPnl":"0.0","dir":"Open Long"},
		{"coin":"BTC","px":"66000","sz":"1","side":"A","time":1700000006000,"oid":202,"closedPnl":"900.5","dir":"Close Long"},
		{"coin":"ETH","px":"3000","sz":"2","side":"A","time":1700000007000,"oid":203,"closedPnl":"0","dir":"Close Short"}
	]}}`
	frame, err := a.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Len(t, frame.Orders, 3)

	openFill := frame.Orders[0]
	require.Equal(t, "201", openFill.OrderID)
	require.Equal(t, schema.OrderStateFilled, openFill.State)
	require.False(t, openFill.ReduceOnly)
	require.False(t, openFill.RealizedPnl.Valid)
	require.True(t, decimal.RequireFromString("65100").Equal(openFill.AvgFillPrice))

	closeFill := frame.Orders[1]
	require.True(t, closeFill.ReduceOnly)
	require.True(t, closeFill.RealizedPnl.Valid)
	require.True(t, decimal.RequireFromString("900.5").Equal(closeFill.RealizedPnl.Decimal))

	require.True(t, frame.Orders[2].ReduceOnly)

	frame, err = a.ParseMessage([]byte(`{"channel":"userFills","data":{"isSnapshot":true,"fills":[{"coin":"BTC","px":"1","sz":"1","oid":1,"time":1}]}}`))
	require.NoError(t, err)
	require.True(t, frame.Orders[0].Snapshot)
}

func TestParseWebData2Positions(t *testing.T) {
	a := New(Options{})
	raw := `{"channel":"webData2","data":{"clearinghouseState":{"time":1700000009000,"assetPositions":[
		{"type":"oneWay","position":{"coin":"BTC","szi":"-0.5","entryPx":"64000"}},
		{"position":{"coin":"ETH","szi":"0","entryPx":null}}
	]},"serverTime":1700000009500}}`
	frame, err := a.ParseMessage([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, schema.FramePositions, frame.Type)
	require.True(t, frame.PositionsComplete)
	require.Len(t, frame.Positions, 2)
	require.Equal(t, "BTC:oneWay", frame.Positions[0].Key())
	require.True(t, decimal.RequireFromString("-0.5").Equal(frame.Positions[0].Size))
	require.True(t, frame.Positions[1].Size.IsZero())
	require.Equal(t, time.UnixMilli(1700000009000).UTC(), frame.Positions[0].UpdatedAt)

	frame, err = a.ParseMessage([]byte(`{"channel":"webData2","data":{"user":"0xabc"}}`))
	require.NoError(t, err)
	require.Equal(t, schema.FrameUnknown, frame.Type)
}
