package okx

import (
	"strings"
	"time"
)

const (
	defaultMainnetURL = "wss://ws.okx.com:8443/ws/v5/private"
	defaultTestnetURL = "wss://wspap.okx.com:8443/ws/v5/private"
	defaultHeartbeat  = 25 * time.Second
	defaultInstType   = "SWAP"
)

// Options configure the OKX adapter.
type Options struct {
	MainnetURL string
	TestnetURL string
	InstType   string
	Heartbeat  time.Duration
	Clock      func() time.Time
}

func withDefaults(in Options) Options {
	if strings.TrimSpace(in.MainnetURL) == "" {
		in.MainnetURL = defaultMainnetURL
	}
	if strings.TrimSpace(in.TestnetURL) == "" {
		in.TestnetURL = defaultTestnetURL
	}
	if strings.TrimSpace(in.InstType) == "" {
		in.InstType = defaultInstType
	}
	if in.Heartbeat <= 0 {
		in.Heartbeat = defaultHeartbeat
	}
	if in.Clock == nil {
		in.Clock = time.Now
	}
	return in
}

func (o Options) url(testnet bool) string {
	if testnet {
		return o.TestnetURL
	}
	return o.MainnetURL
}
