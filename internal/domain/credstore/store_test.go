package credstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "okx:creds:42", Key(schema.ExchangeOKX, "42"))
}

func TestMemoryPutLookupRevoke(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	_, ok, err := mem.Lookup(ctx, "u1", schema.ExchangeGate)
	require.NoError(t, err)
	require.False(t, ok)

	creds := schema.Credentials{UserID: "u1", APIKey: "k", APISecret: "s"}
	mem.Put("u1", schema.ExchangeGate, creds)
	got, ok, err := mem.Lookup(ctx, "u1", schema.ExchangeGate)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, creds, got)

	_, ok, _ = mem.Lookup(ctx, "u1", schema.ExchangeOKX)
	require.False(t, ok)

	mem.Revoke("u1", schema.ExchangeGate)
	_, ok, _ = mem.Lookup(ctx, "u1", schema.ExchangeGate)
	require.False(t, ok)
}
