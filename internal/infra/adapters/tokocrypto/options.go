package tokocrypto

import (
	"net/http"
	"strings"
	"time"
)

const (
	defaultStreamURL     = "wss://stream-tokocrypto.com/stream"
	defaultRESTBase      = "https://www.tokocrypto.com"
	defaultListenKeyPath = "/open/v1/user-data-stream"
	defaultHeartbeat     = 30 * time.Second
	defaultKeepAlive     = 30 * time.Minute
	defaultRecvWindow    = 5 * time.Second
)

// Options configure the Tokocrypto adapter.
type Options struct {
	StreamURL string
	// TestnetStreamURL and TestnetRESTBase are empty by default; Tokocrypto publishes no testnet.
	TestnetStreamURL string
	RESTBase         string
	TestnetRESTBase  string
	ListenKeyPath    string
	Heartbeat        time.Duration
	// KeepAlive is how often the listen key is extended.
	KeepAlive  time.Duration
	RecvWindow time.Duration
	HTTPClient *http.Client
	Clock      func() time.Time
}

func withDefaults(in Options) Options {
	if strings.TrimSpace(in.StreamURL) == "" {
		in.StreamURL = defaultStreamURL
	}
	if strings.TrimSpace(in.RESTBase) == "" {
		in.RESTBase = defaultRESTBase
	}
	if strings.TrimSpace(in.ListenKeyPath) == "" {
		in.ListenKeyPath = defaultListenKeyPath
	}
	if in.Heartbeat <= 0 {
		in.Heartbeat = defaultHeartbeat
	}
	if in.KeepAlive <= 0 {
		in.KeepAlive = defaultKeepAlive
	}
	if in.RecvWindow <= 0 {
		in.RecvWindow = defaultRecvWindow
	}
	if in.HTTPClient == nil {
		in.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if in.Clock == nil {
		in.Clock = time.Now
	}
	return in
}

func (o Options) streamURL(testnet bool) string {
	if testnet {
		return strings.TrimSpace(o.TestnetStreamURL)
	}
	return o.StreamURL
}

func (o Options) listenKeyEndpoint(testnet bool) string {
	base := o.RESTBase
	if testnet {
		base = strings.TrimSpace(o.TestnetRESTBase)
		if base == "" {
			return ""
		}
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(o.ListenKeyPath, "/")
}
