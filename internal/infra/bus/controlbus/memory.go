package controlbus

import (
	"context"
	"sync"

	"github.com/coachpo/tradelink/internal/errs"
)

// MemoryBus is an in-process Bus. Delivery never blocks the publisher: a message for a
// subscription whose queue is full is dropped and reported.
type MemoryBus struct {
	cfg MemoryConfig

	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

type memorySubscription struct {
	bus     *MemoryBus
	channel string
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewMemoryBus constructs an in-process bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	return &MemoryBus{
		cfg:  cfg.normalize(),
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

// NewMemory constructs an in-process bus with default sizing.
func NewMemory() *MemoryBus {
	return NewMemoryBus(MemoryConfig{})
}

// Publish delivers a copy of payload to every current subscriber of channel.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errs.New("controlbus", errs.CodeUnavailable, errs.WithStage("publish"), errs.WithMessage("bus closed"))
	}
	dropped := 0
	for sub := range b.subs[channel] {
		msg := append([]byte(nil), payload...)
		select {
		case sub.ch <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return errs.New("controlbus", errs.CodeUnavailable, errs.WithStage("publish"),
			errs.WithMessage("subscriber backpressure"), errs.WithField("channel", channel))
	}
	return nil
}

// Subscribe registers a subscription. It is closed when ctx ends or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{bus: b, channel: channel, ch: make(chan []byte, b.cfg.BufferSize), done: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errs.New("controlbus", errs.CodeUnavailable, errs.WithStage("subscribe"), errs.WithMessage("bus closed"))
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				_ = sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Close closes every subscription and rejects further use.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*memorySubscription
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()
	for _, sub := range all {
		_ = sub.Close()
	}
}

func (s *memorySubscription) Messages() <-chan []byte { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.channel], s)
		if len(s.bus.subs[s.channel]) == 0 {
			delete(s.bus.subs, s.channel)
		}
		close(s.ch)
		close(s.done)
		s.bus.mu.Unlock()
	})
	return nil
}
