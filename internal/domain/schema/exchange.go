// Package schema defines the exchange-agnostic types shared by the connector pipeline.
package schema

import (
	"strings"

	"github.com/coachpo/tradelink/internal/errs"
)

// ExchangeKind identifies a supported exchange.
type ExchangeKind string

const (
	// ExchangeGate is Gate.io USDT-margined futures.
	ExchangeGate ExchangeKind = "gate"
	// ExchangeHyperliquid is the Hyperliquid perpetuals DEX.
	ExchangeHyperliquid ExchangeKind = "hyperliquid"
	// ExchangeOKX is OKX perpetual swaps.
	ExchangeOKX ExchangeKind = "okx"
	// ExchangeTokocrypto is Tokocrypto futures (Binance-style streams).
	ExchangeTokocrypto ExchangeKind = "tokocrypto"
)

var knownExchanges = map[ExchangeKind]struct{}{
	ExchangeGate:        {},
	ExchangeHyperliquid: {},
	ExchangeOKX:         {},
	ExchangeTokocrypto:  {},
}

// ParseExchangeKind normalizes raw into a known ExchangeKind.
func ParseExchangeKind(raw string) (ExchangeKind, error) {
	kind := ExchangeKind(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownExchanges[kind]; !ok {
		return "", errs.New(raw, errs.CodeInvalid, errs.WithMessage("unsupported exchange kind"))
	}
	return kind, nil
}

// ExchangeKinds lists every supported exchange in a stable order.
func ExchangeKinds() []ExchangeKind {
	return []ExchangeKind{ExchangeGate, ExchangeHyperliquid, ExchangeOKX, ExchangeTokocrypto}
}

func (k ExchangeKind) String() string { return string(k) }

// Credentials carries decrypted account credentials for one (user, exchange) pair.
type Credentials struct {
	// UserID is the platform user owning the account.
	UserID        string
	APIKey        string
	APISecret     string
	Passphrase    string
	WalletAddress string
	AccountID     string
	Testnet       bool
}

// Redacted returns a copy safe for logging.
func (c Credentials) Redacted() Credentials {
	out := c
	if out.APISecret != "" {
		out.APISecret = "***"
	}
	if out.Passphrase != "" {
		out.Passphrase = "***"
	}
	return out
}
