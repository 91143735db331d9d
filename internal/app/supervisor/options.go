package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultCloseTimeout      = 3 * time.Second
	defaultInitialBackoff    = time.Second
	defaultMaxBackoff        = 60 * time.Second
	defaultBackoffMultiplier = 1.5
	defaultEventBuffer       = 256
)

// Options tune connection lifecycle timing.
type Options struct {
	// ConnectTimeout bounds connect plus handshake.
	ConnectTimeout time.Duration
	// CloseTimeout bounds the graceful close before the transport is torn down.
	CloseTimeout      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// EventBuffer is the per-connection queue between the read loop and frame processing.
	EventBuffer int
}

func withDefaults(in Options) Options {
	if in.ConnectTimeout <= 0 {
		in.ConnectTimeout = defaultConnectTimeout
	}
	if in.CloseTimeout <= 0 {
		in.CloseTimeout = defaultCloseTimeout
	}
	if in.InitialBackoff <= 0 {
		in.InitialBackoff = defaultInitialBackoff
	}
	if in.MaxBackoff <= 0 {
		in.MaxBackoff = defaultMaxBackoff
	}
	if in.MaxBackoff < in.InitialBackoff {
		in.MaxBackoff = in.InitialBackoff
	}
	if in.BackoffMultiplier < 1 {
		in.BackoffMultiplier = defaultBackoffMultiplier
	}
	if in.EventBuffer <= 0 {
		in.EventBuffer = defaultEventBuffer
	}
	return in
}

// newBackoff returns a jitter-free exponential schedule that never stops.
func (o Options) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.InitialBackoff
	b.MaxInterval = o.MaxBackoff
	b.Multiplier = o.BackoffMultiplier
	b.RandomizationFactor = 0
	b.Reset()
	return b
}
