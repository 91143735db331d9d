// Package controlbus defines the pub/sub contract that carries control commands in and
// fan-out events out, and an in-process implementation of it.
package controlbus

import (
	"context"
)

// DefaultControlChannel is the process-wide control command channel.
const DefaultControlChannel = "ws-control"

// Publisher sends a payload to every current subscriber of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber opens a subscription to a channel.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Bus publishes payloads to named channels and subscribes to them.
type Bus interface {
	Publisher
	Subscriber
}

// Subscription delivers the payloads published to one channel until closed.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// MemoryConfig configures the in-process bus.
type MemoryConfig struct {
	// BufferSize is the per-subscription queue length.
	BufferSize int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}
