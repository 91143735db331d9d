package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/tradelink/internal/infra/telemetry"
)

// ObservePoolMetrics registers observable gauges reporting pgx pool health.
func ObservePoolMetrics(pool *pgxpool.Pool, poolName string) error {
	if pool == nil {
		return nil
	}
	normalized := strings.TrimSpace(poolName)
	if normalized == "" {
		normalized = "ledger"
	}
	attrs := metric.WithAttributes(
		attribute.String("environment", telemetry.Environment()),
		attribute.String("db_pool", normalized),
	)

	meter := otel.Meter("postgres.pool")
	gauges := []struct {
		name, description string
		read              func(*pgxpool.Stat) int64
	}{
		{"tradelink_db_pool_connections_total", "Total connections (idle + acquired + constructing)",
			func(s *pgxpool.Stat) int64 { return int64(s.TotalConns()) }},
		{"tradelink_db_pool_connections_idle", "Idle connections ready for checkout",
			func(s *pgxpool.Stat) int64 { return int64(s.IdleConns()) }},
		{"tradelink_db_pool_connections_acquired", "Connections currently acquired by callers",
			func(s *pgxpool.Stat) int64 { return int64(s.AcquiredConns()) }},
	}
	for _, g := range gauges {
		read := g.read
		if _, err := meter.Int64ObservableGauge(g.name,
			metric.WithDescription(g.description),
			metric.WithUnit("{connection}"),
			metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
				observer.Observe(read(pool.Stat()), attrs)
				return nil
			}),
		); err != nil {
			return err
		}
	}
	return nil
}
