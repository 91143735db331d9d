package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestDisabledProviderFallsBackToGlobalMeter(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false, Environment: "Staging"})
	require.NoError(t, err)
	require.NotNil(t, p.Meter("x"))
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, "staging", Environment())
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	require.Equal(t, "collector:4318", stripScheme("collector:4318"))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.ConnectionOpened(ctx, "gate")
	m.ConnectAttempt(ctx, "gate", "ok")
	m.Reconciled(ctx, "gate", "filled_open", "applied")
	m.ControlCommand(ctx, "open", "dispatched")
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.ConnectionOpened(ctx, "okx")
	m.ConnectionOpened(ctx, "okx")
	m.ConnectionClosed(ctx, "okx")
	m.FrameReceived(ctx, "okx", "orders")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	require.Equal(t, int64(1), sums["connector.connections.live"])
	require.Equal(t, int64(1), sums["connector.frames.received"])
}
