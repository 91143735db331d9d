package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestLookupReadsCredentialHash(t *testing.T) {
	store, mr := newStore(t)
	mr.HSet("okx:creds:u1", "apiKey", "k", "apiSecret", "s", "passphrase", "p", "testnet", "1")

	creds, ok, err := store.Lookup(context.Background(), "u1", schema.ExchangeOKX)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "u1", creds.UserID)
	require.Equal(t, "k", creds.APIKey)
	require.Equal(t, "s", creds.APISecret)
	require.Equal(t, "p", creds.Passphrase)
	require.True(t, creds.Testnet)
}

func TestLookupAbsent(t *testing.T) {
	store, _ := newStore(t)
	_, ok, err := store.Lookup(context.Background(), "nobody", schema.ExchangeGate)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutAndRevokeCredentials(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	creds := schema.Credentials{UserID: "u2", WalletAddress: "0xabc", AccountID: "7"}

	require.NoError(t, store.PutCredentials(ctx, schema.ExchangeHyperliquid, creds))
	require.Equal(t, "0xabc", mr.HGet("hyperliquid:creds:u2", "walletAddress"))
	require.Equal(t, "false", mr.HGet("hyperliquid:creds:u2", "testnet"))

	got, ok, err := store.Lookup(ctx, "u2", schema.ExchangeHyperliquid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, creds, got)

	require.NoError(t, store.RevokeCredentials(ctx, schema.ExchangeHyperliquid, "u2"))
	_, ok, err = store.Lookup(ctx, "u2", schema.ExchangeHyperliquid)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPositionCacheLifecycle(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	snap := schema.PositionSnapshot{
		Exchange:   schema.ExchangeGate,
		Contract:   "BTC_USDT",
		Mode:       "single",
		Size:       decimal.RequireFromString("3"),
		EntryPrice: decimal.RequireFromString("100.5"),
		UpdatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	_, ok, err := store.GetPosition(ctx, "u1", snap.Key())
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.PutPosition(ctx, "u1", snap))
	require.True(t, mr.Exists("user:u1:positions"))

	got, ok, err := store.GetPosition(ctx, "u1", "BTC_USDT:single")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, snap.Size.Equal(got.Size))
	require.True(t, snap.EntryPrice.Equal(got.EntryPrice))
	require.Equal(t, schema.ExchangeGate, got.Exchange)
	require.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))

	list, err := store.ListPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeletePosition(ctx, "u1", snap.Key()))
	list, err = store.ListPositions(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestPositionEntryNestsExchangePayload(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	payload := `{"contract":"BTC_USDT","size":3,"entry_price":"100.5","mode":"single"}`
	snap := schema.PositionSnapshot{
		Exchange:   schema.ExchangeGate,
		Contract:   "BTC_USDT",
		Mode:       "single",
		Size:       decimal.RequireFromString("3"),
		EntryPrice: decimal.RequireFromString("100.5"),
		Payload:    json.RawMessage(payload),
	}
	require.NoError(t, store.PutPosition(ctx, "u1", snap))

	var entry map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(mr.HGet("user:u1:positions", "BTC_USDT:single")), &entry))
	require.JSONEq(t, payload, string(entry["payload"]))
	require.JSONEq(t, `"3"`, string(entry["size"]))

	got, ok, err := store.GetPosition(ctx, "u1", snap.Key())
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, payload, string(got.Payload))
}

func TestListPositionsSkipsUndecodableEntries(t *testing.T) {
	store, mr := newStore(t)
	mr.HSet("user:u1:positions", "legacy", "not-json")
	require.NoError(t, store.PutPosition(context.Background(), "u1", schema.PositionSnapshot{Contract: "ETH", Mode: "net"}))

	list, err := store.ListPositions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "ETH", list[0].Contract)

	_, _, err = store.GetPosition(context.Background(), "u1", "legacy")
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestOrderCache(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutOrder(ctx, "u1", "o-1", []byte(`{"id":"o-1"}`)))
	require.NoError(t, store.PutOrder(ctx, "u1", "o-1", []byte(`{"id":"o-1","status":"filled"}`)))

	raw, ok, err := store.Order(ctx, "u1", "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"o-1","status":"filled"}`, string(raw))

	_, ok, err = store.Order(ctx, "u1", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnavailableRedis(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()
	_, _, err := store.Lookup(context.Background(), "u1", schema.ExchangeOKX)
	require.True(t, errs.Is(err, errs.CodeUnavailable))
}
