package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coachpo/tradelink/internal/app/normalizer"
	"github.com/coachpo/tradelink/internal/app/reconciler"
	"github.com/coachpo/tradelink/internal/app/supervisor"
	"github.com/coachpo/tradelink/internal/domain/credstore"
	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/domain/tradestore"
	"github.com/coachpo/tradelink/internal/infra/adapters/gate"
	"github.com/coachpo/tradelink/internal/infra/adapters/hyperliquid"
	"github.com/coachpo/tradelink/internal/infra/adapters/shared"
	"github.com/coachpo/tradelink/internal/infra/bus/controlbus"
	"github.com/coachpo/tradelink/internal/testutil"
)

type positionStore struct {
	mu   sync.Mutex
	data map[string]schema.PositionSnapshot
}

func (s *positionStore) GetPosition(_ context.Context, userID, key string) (schema.PositionSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data[userID+"/"+key]
	return snap, ok, nil
}

func (s *positionStore) PutPosition(_ context.Context, userID string, snap schema.PositionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[userID+"/"+snap.Key()] = snap
	return nil
}

func (s *positionStore) DeletePosition(_ context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, userID+"/"+key)
	return nil
}

func (s *positionStore) ListPositions(context.Context, string) ([]schema.PositionSnapshot, error) {
	return nil, nil
}

// gateStub reuses the Gate codec but hands out fake transports.
type gateStub struct {
	*gate.Adapter
	mu         sync.Mutex
	transports []*testutil.FakeTransport
}

func (g *gateStub) Connect(context.Context, schema.Credentials) (shared.Transport, error) {
	t := testutil.NewFakeTransport(16)
	g.mu.Lock()
	g.transports = append(g.transports, t)
	g.mu.Unlock()
	return t, nil
}

func (g *gateStub) transport() *testutil.FakeTransport {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transports[0]
}

type hyperliquidStub struct {
	*hyperliquid.Adapter
	transport *testutil.FakeTransport
}

func (h *hyperliquidStub) Connect(context.Context, schema.Credentials) (shared.Transport, error) {
	return h.transport, nil
}

func TestHyperliquidFillsOutrankOrderUpdates(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	ledger := tradestore.NewMemory()
	_, err := ledger.Insert(ctx, tradestore.Trade{UserID: "u2", Exchange: schema.ExchangeHyperliquid, ExchangeOrderID: "301",
		CloseOrderID: "302", Contract: "ETH", Status: schema.TradeWaitingPosition})
	require.NoError(t, err)

	bus := controlbus.NewMemory()
	defer bus.Close()
	orders, err := bus.Subscribe(ctx, reconciler.OrdersChannel("u2"))
	require.NoError(t, err)

	norm := normalizer.New(&positionStore{data: make(map[string]schema.PositionSnapshot)})
	rec := reconciler.New(ledger, bus)
	creds := credstore.NewMemory()
	creds.Put("u2", schema.ExchangeHyperliquid, schema.Credentials{UserID: "u2",
		WalletAddress: "0x00000000000000000000000000000000000000aa"})
	adapter := &hyperliquidStub{
		Adapter:   hyperliquid.New(hyperliquid.Options{DisablePositions: true}),
		transport: testutil.NewFakeTransport(16),
	}
	sup := supervisor.New(shared.NewRegistry(adapter), creds, New(norm, rec))
	require.NoError(t, sup.Ensure(ctx, supervisor.Key{UserID: "u2", Exchange: schema.ExchangeHyperliquid}, nil))

	tr := adapter.transport
	tr.Push([]byte(`{"channel":"orderUpdates","data":[
		{"order":{"coin":"ETH","side":"B","limitPx":"3000","sz":"0","oid":301,"timestamp":1700000000000,"origSz":"1"},"status":"filled","statusTimestamp":1700000000100}]}`))
	tr.Push([]byte(`{"channel":"userFills","data":{"isSnapshot":false,"user":"0xaa","fills":[
		{"coin":"ETH","px":"2950","sz":"1","side":"B","time":1700000000200,"oid":301,"closedPnl":"0","dir":"Open Long"}]}}`))
	tr.Push([]byte(`{"channel":"orderUpdates","data":[
		{"order":{"coin":"ETH","side":"A","limitPx":"2900","sz":"0","oid":302,"timestamp":1700000001000,"origSz":"1","reduceOnly":true},"status":"filled","statusTimestamp":1700000001100}]}`))
	tr.Push([]byte(`{"channel":"userFills","data":{"isSnapshot":false,"user":"0xaa","fills":[
		{"coin":"ETH","px":"3050","sz":"1","side":"A","time":1700000001200,"oid":302,"closedPnl":"100","dir":"Close Long"}]}}`))

	for i := 0; i < 4; i++ {
		select {
		case <-orders.Messages():
		case <-time.After(time.Second):
			t.Fatalf("order fan-out %d not published", i)
		}
	}

	trade, err := ledger.FindTradeByExchangeOrderID(ctx, "301")
	require.NoError(t, err)
	require.Equal(t, schema.TradeClosed, trade.Status)
	require.True(t, decimal.RequireFromString("2950").Equal(trade.OpenFillPrice.Decimal))
	require.True(t, decimal.RequireFromString("3050").Equal(trade.CloseFillPrice.Decimal))
	require.True(t, trade.RealizedPnl.Valid)
	require.True(t, decimal.RequireFromString("100").Equal(trade.RealizedPnl.Decimal))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(shutdownCtx))
}

func TestGateFillsFlowIntoLedgerAndFanout(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	ledger := tradestore.NewMemory()
	_, err := ledger.Insert(ctx, tradestore.Trade{UserID: "u1", Exchange: schema.ExchangeGate, ExchangeOrderID: "5001",
		Contract: "BTC_USDT", Status: schema.TradeWaitingPosition})
	require.NoError(t, err)

	bus := controlbus.NewMemory()
	defer bus.Close()
	orders, err := bus.Subscribe(ctx, reconciler.OrdersChannel("u1"))
	require.NoError(t, err)
	positions, err := bus.Subscribe(ctx, reconciler.PositionsChannel("u1"))
	require.NoError(t, err)

	norm := normalizer.New(&positionStore{data: make(map[string]schema.PositionSnapshot)})
	rec := reconciler.New(ledger, bus)
	creds := credstore.NewMemory()
	creds.Put("u1", schema.ExchangeGate, schema.Credentials{UserID: "u1", APIKey: "k", APISecret: "s", AccountID: "10001"})
	adapter := &gateStub{Adapter: gate.New(gate.Options{})}
	sup := supervisor.New(shared.NewRegistry(adapter), creds, New(norm, rec))

	key := supervisor.Key{UserID: "u1", Exchange: schema.ExchangeGate}
	require.NoError(t, sup.Ensure(ctx, key, nil))
	tr := adapter.transport()

	tr.Push([]byte(`{"time":1700000000,"channel":"futures.orders","event":"update","result":[
		{"id":5001,"contract":"BTC_USDT","size":2,"left":0,"fill_price":"65000","status":"finished","finish_as":"filled","is_reduce_only":false,"finish_time_ms":1700000000123}]}`))
	tr.Push([]byte(`{"time":1700000001,"channel":"futures.positions","event":"update","result":[
		{"contract":"BTC_USDT","size":2,"entry_price":"65000","mode":"single","time_ms":1700000001000}]}`))
	tr.Push([]byte(`{"time":1700000002,"channel":"futures.positions","event":"update","result":[
		{"contract":"BTC_USDT","size":0,"entry_price":"0","mode":"single","realised_pnl":"40.5","time_ms":1700000002000}]}`))

	select {
	case msg := <-orders.Messages():
		require.Contains(t, string(msg), `"id":5001`)
	case <-time.After(time.Second):
		t.Fatal("order fan-out not published")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-positions.Messages():
		case <-time.After(time.Second):
			t.Fatal("position fan-out not published")
		}
	}

	trade, err := ledger.FindTradeByExchangeOrderID(ctx, "5001")
	require.NoError(t, err)
	require.Equal(t, schema.TradeClosed, trade.Status)
	require.True(t, decimal.RequireFromString("65000").Equal(trade.OpenFillPrice.Decimal))
	require.True(t, decimal.RequireFromString("40.5").Equal(trade.RealizedPnl.Decimal))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, sup.Shutdown(shutdownCtx))
}
