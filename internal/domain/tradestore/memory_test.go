package tradestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

func TestMemoryFindAndUpdate(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()
	_, err := ledger.Insert(ctx, Trade{UserID: "u1", ExchangeOrderID: "o1", CloseOrderID: "c1", Contract: "BTC_USDT", Status: schema.TradeWaitingPosition})
	require.NoError(t, err)

	price := decimal.RequireFromString("101.5")
	at := time.Unix(1700000000, 0).UTC()
	applied, err := ledger.UpdateTradeStatus(ctx, "o1", StatusUpdate{
		Status:        schema.TradeWaitingTargets,
		From:          []schema.TradeStatus{schema.TradeWaitingPosition},
		OpenFillPrice: &price,
		OpenFilledAt:  &at,
	})
	require.NoError(t, err)
	require.True(t, applied)

	trade, err := ledger.FindTradeByExchangeOrderID(ctx, "o1")
	require.NoError(t, err)
	require.Equal(t, schema.TradeWaitingTargets, trade.Status)
	require.True(t, trade.OpenFillPrice.Valid)
	require.True(t, trade.OpenFillPrice.Decimal.Equal(price))
	require.Equal(t, at, *trade.OpenFilledAt)
	require.False(t, trade.RealizedPnl.Valid)

	byClose, err := ledger.FindTradeByCloseOrderID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, trade.ID, byClose.ID)
}

func TestMemoryUpdateRespectsGuards(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()
	_, err := ledger.Insert(ctx, Trade{UserID: "u1", ExchangeOrderID: "o1", Contract: "BTC", Status: schema.TradeClosed})
	require.NoError(t, err)
	_, err = ledger.Insert(ctx, Trade{UserID: "u1", ExchangeOrderID: "o2", Contract: "BTC", Status: schema.TradeWaitingTargets})
	require.NoError(t, err)

	applied, err := ledger.UpdateTradeStatus(ctx, "o1", StatusUpdate{Status: schema.TradeError})
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = ledger.UpdateTradeStatus(ctx, "o2", StatusUpdate{Status: schema.TradeCancelled, From: []schema.TradeStatus{schema.TradePending}})
	require.NoError(t, err)
	require.False(t, applied)

	_, err = ledger.UpdateTradeStatus(ctx, "missing", StatusUpdate{Status: schema.TradeClosed})
	require.ErrorIs(t, err, ErrTradeNotFound)

	_, err = ledger.FindTradeByCloseOrderID(ctx, "")
	require.ErrorIs(t, err, ErrTradeNotFound)
}

func TestMemoryFindTradesByUserContractStatus(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()
	for _, tr := range []Trade{
		{UserID: "u1", ExchangeOrderID: "a", Contract: "ETH", Status: schema.TradeWaitingTargets},
		{UserID: "u1", ExchangeOrderID: "b", Contract: "ETH", Status: schema.TradePartiallyFilled},
		{UserID: "u1", ExchangeOrderID: "c", Contract: "ETH", Status: schema.TradeClosed},
		{UserID: "u2", ExchangeOrderID: "d", Contract: "ETH", Status: schema.TradeWaitingTargets},
		{UserID: "u1", ExchangeOrderID: "e", Contract: "BTC", Status: schema.TradeWaitingTargets},
	} {
		_, err := ledger.Insert(ctx, tr)
		require.NoError(t, err)
	}

	got, err := ledger.FindTradesByUserContractStatus(ctx, "u1", "ETH", schema.TradeWaitingTargets, schema.TradePartiallyFilled)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ExchangeOrderID)
	require.Equal(t, "b", got[1].ExchangeOrderID)

	all, err := ledger.FindTradesByUserContractStatus(ctx, "u1", "ETH")
	require.NoError(t, err)
	require.Len(t, all, 3)
}
