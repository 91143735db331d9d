// Package credstore defines the credential lookup contract.
package credstore

import (
	"context"
	"sync"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

// Source returns the current credentials for a user and exchange. The boolean is false
// when no credentials are stored.
type Source interface {
	Lookup(ctx context.Context, userID string, kind schema.ExchangeKind) (schema.Credentials, bool, error)
}

// Key returns the credential hash key for a user and exchange.
func Key(kind schema.ExchangeKind, userID string) string {
	return string(kind) + ":creds:" + userID
}

// Memory is a map-backed Source.
type Memory struct {
	mu    sync.RWMutex
	creds map[string]schema.Credentials
}

// NewMemory constructs an empty credential source.
func NewMemory() *Memory {
	return &Memory{mu: sync.RWMutex{}, creds: make(map[string]schema.Credentials)}
}

// Put stores credentials for the user.
func (m *Memory) Put(userID string, kind schema.ExchangeKind, creds schema.Credentials) {
	m.mu.Lock()
	m.creds[Key(kind, userID)] = creds
	m.mu.Unlock()
}

// Revoke removes stored credentials.
func (m *Memory) Revoke(userID string, kind schema.ExchangeKind) {
	m.mu.Lock()
	delete(m.creds, Key(kind, userID))
	m.mu.Unlock()
}

func (m *Memory) Lookup(_ context.Context, userID string, kind schema.ExchangeKind) (schema.Credentials, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	creds, ok := m.creds[Key(kind, userID)]
	return creds, ok, nil
}
