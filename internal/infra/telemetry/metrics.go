package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tradelink.connector"

// Metrics bundles the connector instruments. The zero value and nil are no-ops.
type Metrics struct {
	liveConnections  metric.Int64UpDownCounter
	connectAttempts  metric.Int64Counter
	reconnects       metric.Int64Counter
	framesReceived   metric.Int64Counter
	decodeErrors     metric.Int64Counter
	reconcileResults metric.Int64Counter
	fanoutFailures   metric.Int64Counter
	controlCommands  metric.Int64Counter
}

// NewMetrics creates instruments on meter, or on the global meter when nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &Metrics{}
	var err error
	if m.liveConnections, err = meter.Int64UpDownCounter("connector.connections.live",
		metric.WithDescription("Live exchange streaming connections"), metric.WithUnit("{connection}")); err != nil {
		return nil, err
	}
	if m.connectAttempts, err = meter.Int64Counter("connector.connect.attempts",
		metric.WithDescription("Connect and handshake attempts by result"), metric.WithUnit("{attempt}")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("connector.reconnects.scheduled",
		metric.WithDescription("Reconnects scheduled after a failure or unexpected close"), metric.WithUnit("{reconnect}")); err != nil {
		return nil, err
	}
	if m.framesReceived, err = meter.Int64Counter("connector.frames.received",
		metric.WithDescription("Inbound frames by parsed type"), metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if m.decodeErrors, err = meter.Int64Counter("connector.frames.decode_errors",
		metric.WithDescription("Inbound frames that failed to parse"), metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if m.reconcileResults, err = meter.Int64Counter("connector.reconcile.results",
		metric.WithDescription("Reconciled events by kind and outcome"), metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.fanoutFailures, err = meter.Int64Counter("connector.fanout.failures",
		metric.WithDescription("Fan-out publishes that failed"), metric.WithUnit("{message}")); err != nil {
		return nil, err
	}
	if m.controlCommands, err = meter.Int64Counter("connector.control.commands",
		metric.WithDescription("Control commands received by op and result"), metric.WithUnit("{command}")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) ConnectionOpened(ctx context.Context, exchange string) {
	if m == nil || m.liveConnections == nil {
		return
	}
	m.liveConnections.Add(ctx, 1, metric.WithAttributes(ExchangeAttributes(exchange)...))
}

func (m *Metrics) ConnectionClosed(ctx context.Context, exchange string) {
	if m == nil || m.liveConnections == nil {
		return
	}
	m.liveConnections.Add(ctx, -1, metric.WithAttributes(ExchangeAttributes(exchange)...))
}

func (m *Metrics) ConnectAttempt(ctx context.Context, exchange, result string) {
	if m == nil || m.connectAttempts == nil {
		return
	}
	m.connectAttempts.Add(ctx, 1, metric.WithAttributes(ExchangeAttributes(exchange, AttrResult.String(result))...))
}

func (m *Metrics) ReconnectScheduled(ctx context.Context, exchange, reason string) {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(ExchangeAttributes(exchange, AttrReason.String(reason))...))
}

func (m *Metrics) FrameReceived(ctx context.Context, exchange, frameType string) {
	if m == nil || m.framesReceived == nil {
		return
	}
	m.framesReceived.Add(ctx, 1, metric.WithAttributes(ExchangeAttributes(exchange, AttrFrameType.String(frameType))...))
}

func (m *Metrics) DecodeError(ctx context.Context, exchange string) {
	if m == nil || m.decodeErrors == nil {
		return
	}
	m.decodeErrors.Add(ctx, 1, metric.WithAttributes(ExchangeAttributes(exchange)...))
}

func (m *Metrics) Reconciled(ctx context.Context, exchange, kind, outcome string) {
	if m == nil || m.reconcileResults == nil {
		return
	}
	m.reconcileResults.Add(ctx, 1, metric.WithAttributes(ExchangeAttributes(exchange,
		AttrEventKind.String(kind), AttrOutcome.String(outcome))...))
}

func (m *Metrics) FanoutFailed(ctx context.Context, channel string) {
	if m == nil || m.fanoutFailures == nil {
		return
	}
	m.fanoutFailures.Add(ctx, 1, metric.WithAttributes(AttrEnvironment.String(Environment()), attribute.String("channel.kind", channel)))
}

func (m *Metrics) ControlCommand(ctx context.Context, op, result string) {
	if m == nil || m.controlCommands == nil {
		return
	}
	m.controlCommands.Add(ctx, 1, metric.WithAttributes(AttrEnvironment.String(Environment()),
		AttrCommandType.String(op), AttrResult.String(result)))
}
