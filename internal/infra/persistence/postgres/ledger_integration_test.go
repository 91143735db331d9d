package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/domain/tradestore"
	"github.com/coachpo/tradelink/internal/infra/persistence/migrations"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres contract test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "tradelink"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/tradelink?sslmode=disable", host, port.Port())

	require.NoError(t, migrations.Apply(ctx, dsn, "", nil))
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestLedgerContract(t *testing.T) {
	pool := startPostgres(t)
	ledger := NewLedger(pool)
	ctx := context.Background()

	inserted, err := ledger.Insert(ctx, tradestore.Trade{
		UserID:            "u1",
		Exchange:          schema.ExchangeGate,
		ExchangeOrderID:   "o-100",
		CloseOrderID:      "c-100",
		Contract:          "BTC_USDT",
		Status:            schema.TradeWaitingPosition,
		TakeProfitEnabled: true,
	})
	require.NoError(t, err)
	require.NotZero(t, inserted.ID)

	t.Run("find by ids", func(t *testing.T) {
		got, err := ledger.FindTradeByExchangeOrderID(ctx, "o-100")
		require.NoError(t, err)
		require.Equal(t, inserted.ID, got.ID)
		require.Equal(t, schema.TradeWaitingPosition, got.Status)
		require.True(t, got.TakeProfitEnabled)
		require.False(t, got.RemainingQty.Valid)

		got, err = ledger.FindTradeByCloseOrderID(ctx, "c-100")
		require.NoError(t, err)
		require.Equal(t, "o-100", got.ExchangeOrderID)

		_, err = ledger.FindTradeByExchangeOrderID(ctx, "missing")
		require.ErrorIs(t, err, tradestore.ErrTradeNotFound)
	})

	t.Run("guarded updates", func(t *testing.T) {
		price := decimal.RequireFromString("100.5")
		filledAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		armed := true
		changed, err := ledger.UpdateTradeStatus(ctx, "o-100", tradestore.StatusUpdate{
			Status:        schema.TradeWaitingTargets,
			From:          []schema.TradeStatus{schema.TradeWaitingPosition},
			OpenFillPrice: &price,
			OpenFilledAt:  &filledAt,
			TargetsArmed:  &armed,
		})
		require.NoError(t, err)
		require.True(t, changed)

		changed, err = ledger.UpdateTradeStatus(ctx, "o-100", tradestore.StatusUpdate{
			Status: schema.TradeCancelled,
			From:   []schema.TradeStatus{schema.TradePending, schema.TradeWaitingPosition},
		})
		require.NoError(t, err)
		require.False(t, changed)

		pnl := decimal.RequireFromString("40.5")
		closedAt := filledAt.Add(time.Hour)
		changed, err = ledger.UpdateTradeStatus(ctx, "o-100", tradestore.StatusUpdate{
			Status:      schema.TradeClosed,
			RealizedPnl: &pnl,
			ClosedAt:    &closedAt,
		})
		require.NoError(t, err)
		require.True(t, changed)

		changed, err = ledger.UpdateTradeStatus(ctx, "o-100", tradestore.StatusUpdate{Status: schema.TradeError})
		require.NoError(t, err)
		require.False(t, changed)

		got, err := ledger.FindTradeByExchangeOrderID(ctx, "o-100")
		require.NoError(t, err)
		require.Equal(t, schema.TradeClosed, got.Status)
		require.True(t, got.OpenFillPrice.Decimal.Equal(price))
		require.True(t, got.RealizedPnl.Decimal.Equal(pnl))
		require.True(t, got.TargetsArmed)
		require.NotNil(t, got.OpenFilledAt)
		require.True(t, got.OpenFilledAt.Equal(filledAt))
		require.NotNil(t, got.ClosedAt)

		_, err = ledger.UpdateTradeStatus(ctx, "missing", tradestore.StatusUpdate{Status: schema.TradeClosed})
		require.ErrorIs(t, err, tradestore.ErrTradeNotFound)
	})

	t.Run("list by user contract status", func(t *testing.T) {
		_, err := ledger.Insert(ctx, tradestore.Trade{
			UserID: "u1", Exchange: schema.ExchangeGate, ExchangeOrderID: "o-101",
			Contract: "BTC_USDT", Status: schema.TradeWaitingTargets,
		})
		require.NoError(t, err)

		open, err := ledger.FindTradesByUserContractStatus(ctx, "u1", "BTC_USDT",
			schema.TradeWaitingTargets, schema.TradePartiallyFilled)
		require.NoError(t, err)
		require.Len(t, open, 1)
		require.Equal(t, "o-101", open[0].ExchangeOrderID)

		all, err := ledger.FindTradesByUserContractStatus(ctx, "u1", "BTC_USDT")
		require.NoError(t, err)
		require.Len(t, all, 2)
	})
}
