// Package redisbus implements the pub/sub bus on Redis channels.
package redisbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/coachpo/tradelink/internal/errs"
	"github.com/coachpo/tradelink/internal/infra/bus/controlbus"
)

// Bus publishes and subscribes through a Redis client.
type Bus struct {
	client redis.UniversalClient
	buffer int
}

var _ controlbus.Bus = (*Bus)(nil)

// New wraps client. buffer sizes each subscription's delivery queue.
func New(client redis.UniversalClient, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 100
	}
	return &Bus{client: client, buffer: buffer}
}

func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errs.New("redisbus", errs.CodeUnavailable, errs.WithStage("publish"),
			errs.WithField("channel", channel), errs.WithCause(err))
	}
	return nil
}

// Subscribe returns once Redis confirmed the subscription.
func (b *Bus) Subscribe(ctx context.Context, channel string) (controlbus.Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errs.New("redisbus", errs.CodeUnavailable, errs.WithStage("subscribe"),
			errs.WithField("channel", channel), errs.WithCause(err))
	}
	sub := &subscription{
		ps:   ps,
		out:  make(chan []byte, b.buffer),
		done: make(chan struct{}),
	}
	in := ps.Channel(redis.WithChannelSize(b.buffer))
	go sub.pump(ctx, in)
	return sub, nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
	err  error
}

func (s *subscription) pump(ctx context.Context, in <-chan *redis.Message) {
	defer close(s.out)
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		if err := s.ps.Close(); err != nil {
			s.err = fmt.Errorf("close redis subscription: %w", err)
		}
	})
	return s.err
}
