package gate

import (
	"strings"
	"time"
)

const (
	defaultMainnetURL = "wss://fx-ws.gateio.ws/v4/ws/usdt"
	defaultTestnetURL = "wss://fx-ws-testnet.gateio.ws/v4/ws/usdt"
	defaultHeartbeat  = 25 * time.Second
	allContracts      = "!all"
)

// Options configure the Gate adapter.
type Options struct {
	MainnetURL string
	TestnetURL string
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
