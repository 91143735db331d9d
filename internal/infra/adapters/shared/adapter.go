// Package shared defines the exchange adapter contract and the websocket plumbing every
// adapter builds on.
package shared

import (
	"context"
	"time"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

// Adapter hides one exchange's endpoints, handshake, keep-alive and framing.
type Adapter interface {
	Kind() schema.ExchangeKind
	// Connect opens the transport; creds.Testnet selects the endpoint.
	Connect(ctx context.Context, creds schema.Credentials) (Transport, error)
	// AuthenticateAndSubscribe performs the signed handshake and subscribes to the account's
	// order and position streams. It returns once the exchange accepted the subscriptions or
	// they were sent, depending on the exchange.
	AuthenticateAndSubscribe(ctx context.Context, t Transport, creds schema.Credentials, topics []string) error
	HeartbeatInterval() time.Duration
	Heartbeat(ctx context.Context, t Transport) error
	ParseMessage(raw []byte) (schema.Frame, error)
}

// Registry maps exchange kinds to adapters.
type Registry map[schema.ExchangeKind]Adapter

// NewRegistry indexes adapters by kind.
func NewRegistry(adapters ...Adapter) Registry {
	reg := make(Registry, len(adapters))
	for _, a := range adapters {
		if a != nil {
			reg[a.Kind()] = a
		}
	}
	return reg
}

// Lookup returns the adapter for kind.
func (r Registry) Lookup(kind schema.ExchangeKind) (Adapter, bool) {
	a, ok := r[kind]
	return a, ok
}
