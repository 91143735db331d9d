package telemetry

import "go.opentelemetry.io/otel/attribute"

const (
	// AttrExchange identifies the exchange a signal belongs to.
	AttrExchange = attribute.Key("exchange")
	// AttrFrameType labels parsed inbound frames (orders, positions, heartbeat, ...).
	AttrFrameType = attribute.Key("frame.type")
	// AttrEventKind labels normalized order/position event kinds.
	AttrEventKind = attribute.Key("event.kind")
	// AttrOutcome records the reconciliation outcome.
	AttrOutcome = attribute.Key("outcome")
	// AttrResult records the result of an operation.
	AttrResult = attribute.Key("result")
	// AttrReason gives free-form failure context.
	AttrReason = attribute.Key("reason")
	// AttrCommandType indicates which control command was processed.
	AttrCommandType = attribute.Key("command.type")
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// ExchangeAttributes returns the base attribute set for per-exchange metrics.
func ExchangeAttributes(exchange string, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2+len(extra))
	attrs = append(attrs, AttrEnvironment.String(Environment()), AttrExchange.String(exchange))
	return append(attrs, extra...)
}
