// Package redisstore keeps credentials and per-user caches in Redis hashes.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/coachpo/tradelink/internal/domain/credstore"
	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
)

const (
	fieldAPIKey        = "apiKey"
	fieldAPISecret     = "apiSecret"
	fieldPassphrase    = "passphrase"
	fieldWalletAddress = "walletAddress"
	fieldAccountID     = "accountId"
	fieldTestnet       = "testnet"
)

// Store implements the credential source, the position cache and the order cache.
type Store struct {
	client redis.UniversalClient
}

var _ credstore.Source = (*Store)(nil)

// New wraps an existing client. The caller owns the client lifecycle.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// PositionsKey is the hash holding a user's cached positions.
func PositionsKey(userID string) string { return "user:" + userID + ":positions" }

// OrdersKey is the hash holding a user's latest order payloads.
func OrdersKey(userID string) string { return "user:" + userID + ":orders" }

// Lookup reads the credential hash. A missing or empty hash reports absent.
func (s *Store) Lookup(ctx context.Context, userID string, kind schema.ExchangeKind) (schema.Credentials, bool, error) {
	fields, err := s.client.HGetAll(ctx, credstore.Key(kind, userID)).Result()
	if err != nil {
		return schema.Credentials{}, false, storeErr(string(kind), "lookup credentials", err)
	}
	if len(fields) == 0 {
		return schema.Credentials{}, false, nil
	}
	creds := schema.Credentials{
		UserID:        userID,
		APIKey:        fields[fieldAPIKey],
		APISecret:     fields[fieldAPISecret],
		Passphrase:    fields[fieldPassphrase],
		WalletAddress: fields[fieldWalletAddress],
		AccountID:     fields[fieldAccountID],
		Testnet:       parseBool(fields[fieldTestnet]),
	}
	return creds, true, nil
}

// PutCredentials writes the credential hash, replacing previous fields.
func (s *Store) PutCredentials(ctx context.Context, kind schema.ExchangeKind, creds schema.Credentials) error {
	key := credstore.Key(kind, creds.UserID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldAPIKey, creds.APIKey,
			fieldAPISecret, creds.APISecret,
			fieldPassphrase, creds.Passphrase,
			fieldWalletAddress, creds.WalletAddress,
			fieldAccountID, creds.AccountID,
			fieldTestnet, strconv.FormatBool(creds.Testnet),
		)
		return nil
	})
	if err != nil {
		return storeErr(string(kind), "put credentials", err)
	}
	return nil
}

// RevokeCredentials deletes the credential hash.
func (s *Store) RevokeCredentials(ctx context.Context, kind schema.ExchangeKind, userID string) error {
	if err := s.client.Del(ctx, credstore.Key(kind, userID)).Err(); err != nil {
		return storeErr(string(kind), "revoke credentials", err)
	}
	return nil
}

func (s *Store) GetPosition(ctx context.Context, userID, key string) (schema.PositionSnapshot, bool, error) {
	raw, err := s.client.HGet(ctx, PositionsKey(userID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return schema.PositionSnapshot{}, false, nil
	}
	if err != nil {
		return schema.PositionSnapshot{}, false, storeErr("", "get position", err)
	}
	var snap schema.PositionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return schema.PositionSnapshot{}, false, errs.New("", errs.CodeInvalid,
			errs.WithStage("get position"), errs.WithField("field", key), errs.WithCause(err))
	}
	return snap, true, nil
}

func (s *Store) PutPosition(ctx context.Context, userID string, snap schema.PositionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return errs.New(string(snap.Exchange), errs.CodeInvalid, errs.WithStage("put position"), errs.WithCause(err))
	}
	if err := s.client.HSet(ctx, PositionsKey(userID), snap.Key(), raw).Err(); err != nil {
		return storeErr(string(snap.Exchange), "put position", err)
	}
	return nil
}

func (s *Store) DeletePosition(ctx context.Context, userID, key string) error {
	if err := s.client.HDel(ctx, PositionsKey(userID), key).Err(); err != nil {
		return storeErr("", "delete position", err)
	}
	return nil
}

// ListPositions skips entries that no longer decode.
func (s *Store) ListPositions(ctx context.Context, userID string) ([]schema.PositionSnapshot, error) {
	values, err := s.client.HVals(ctx, PositionsKey(userID)).Result()
	if err != nil {
		return nil, storeErr("", "list positions", err)
	}
	out := make([]schema.PositionSnapshot, 0, len(values))
	for _, value := range values {
		var snap schema.PositionSnapshot
		if err := json.Unmarshal([]byte(value), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) PutOrder(ctx context.Context, userID, orderID string, payload []byte) error {
	if err := s.client.HSet(ctx, OrdersKey(userID), orderID, payload).Err(); err != nil {
		return storeErr("", "put order", err)
	}
	return nil
}

// Order returns the cached payload of an order.
func (s *Store) Order(ctx context.Context, userID, orderID string) ([]byte, bool, error) {
	raw, err := s.client.HGet(ctx, OrdersKey(userID), orderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("", "get order", err)
	}
	return raw, true, nil
}

func storeErr(exchange, stage string, err error) error {
	code := errs.CodeUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		code = errs.CodeTimeout
	}
	return errs.New(exchange, code, errs.WithStage(stage), errs.WithCause(err))
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
