package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/tradelink/internal/domain/schema"
	"github.com/coachpo/tradelink/internal/errs"
)

func TestSigningVectors(t *testing.T) {
	msg := "The quick brown fox jumps over the lazy dog"
	require.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", SignHMACSHA256Hex("key", msg))
	require.Equal(t, "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=", SignHMACSHA256Base64("key", msg))
	require.Equal(t, "b42af09057bac1e2d41708e48a902e09b5ff7f12ab428a4fe86653c73dd248fb82f948a549f7b791a5b41915ee4d1ec3935357e4e2317250d0372afa2ebeeb3a", SignHMACSHA512Hex("key", msg))
}

func TestLenientCodecs(t *testing.T) {
	var doc struct {
		A  Decimal `json:"a"`
		B  Decimal `json:"b"`
		C  Decimal `json:"c"`
		D  Decimal `json:"d"`
		ID ID      `json:"id"`
		N  ID      `json:"n"`
		T  Millis  `json:"t"`
		S  Millis  `json:"s"`
	}
	err := json.Unmarshal([]byte(`{"a":"1.25","b":3,"c":"","d":null,"id":"abc","n":12345678901234567,"t":1700000000000,"s":"1700000000001"}`), &doc)
	require.NoError(t, err)
	require.Equal(t, "1.25", doc.A.String())
	require.True(t, doc.A.Present)
	require.Equal(t, "3", doc.B.String())
	require.False(t, doc.C.Present)
	require.False(t, doc.D.Nullable().Valid)
	require.False(t, doc.B.Nullable().Decimal.IsZero())
	require.Equal(t, ID("abc"), doc.ID)
	require.Equal(t, "12345678901234567", doc.N.String())
	require.Equal(t, int64(1700000000000), doc.T.Time(time.Time{}).UnixMilli())
	require.Equal(t, int64(1700000000001), doc.S.Time(time.Time{}).UnixMilli())

	fallback := time.Unix(42, 0)
	require.Equal(t, fallback.UTC(), Millis(0).Time(fallback))
}

func TestDecimalNonZero(t *testing.T) {
	var zero Decimal
	require.NoError(t, zero.UnmarshalJSON([]byte(`"0"`)))
	require.True(t, zero.Present)
	require.False(t, zero.NonZero().Valid)
	require.True(t, zero.Nullable().Valid)
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(nil, stubAdapter{kind: schema.ExchangeGate})
	a, ok := reg.Lookup(schema.ExchangeGate)
	require.True(t, ok)
	require.Equal(t, schema.ExchangeGate, a.Kind())
	_, ok = reg.Lookup(schema.ExchangeOKX)
	require.False(t, ok)
}

func TestWSTransportRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, append([]byte("echo:"), data...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr, err := Dial(ctx, "test", url, DialOptions{})
	require.NoError(t, err)

	require.NoError(t, tr.Write(ctx, []byte("hello")))
	got, err := tr.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "echo:hello", string(got))

	closeCtx, closeCancel := context.WithTimeout(ctx, time.Second)
	defer closeCancel()
	require.NoError(t, tr.Close(closeCtx))
	require.NoError(t, tr.CloseNow())
}

func TestDialFailureIsNetworkError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "gate", "ws://127.0.0.1:1/ws", DialOptions{})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeNetwork))
}

type stubAdapter struct {
	Adapter
	kind schema.ExchangeKind
}

func (s stubAdapter) Kind() schema.ExchangeKind { return s.kind }
