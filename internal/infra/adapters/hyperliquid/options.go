package hyperliquid

import (
	"strings"
	"time"
)

const (
	defaultMainnetURL = "wss://api.hyperliquid.xyz/ws"
	defaultTestnetURL = "wss://api.hyperliquid-testnet.xyz/ws"
	defaultHeartbeat  = 30 * time.Second
)

// Options configure the Hyperliquid adapter.
type Options struct {
	MainnetURL string
	TestnetURL string
	Heartbeat  time.Duration
	// DisablePositions skips the webData2 subscription that carries clearinghouse positions.
	DisablePositions bool
}

func withDefaults(in Options) Options {
	if strings.TrimSpace(in.MainnetURL) == "" {
		in.MainnetURL = defaultMainnetURL
	}
	if strings.TrimSpace(in.TestnetURL) == "" {
		in.TestnetURL = defaultTestnetURL
	}
	if in.Heartbeat <= 0 {
		in.Heartbeat = defaultHeartbeat
	}
	return in
}

func (o Options) url(testnet bool) string {
	if testnet {
		return o.TestnetURL
	}
	return o.MainnetURL
}
