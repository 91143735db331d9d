// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by FakeTransport once closed.
var ErrTransportClosed = errors.New("fake transport closed")

// FakeTransport simulates an exchange websocket. Inbound frames are queued with Push and
// outbound writes are recorded.
type FakeTransport struct {
	mu       sync.Mutex
	frames   chan []byte
	done     chan struct{}
	closed   bool
	dropErr  error
	writes   [][]byte
	pings    int
	graceful bool
	// OnWrite, when set, is invoked for every write and may push replies.
	OnWrite func(f *FakeTransport, payload []byte)
}

// NewFakeTransport creates a transport with a buffered inbound queue.
func NewFakeTransport(buffer int) *FakeTransport {
	if buffer <= 0 {
		buffer = 16
	}
	return &FakeTransport{
		frames: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

// Push enqueues an inbound frame. Frames pushed after close are dropped.
func (f *FakeTransport) Push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.frames <- frame
}

// Drop terminates the stream as if the exchange went away.
func (f *FakeTransport) Drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	f.dropErr = err
	f.closed = true
	close(f.done)
}

func (f *FakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	default:
	}
	select {
	case frame := <-f.frames:
		return frame, nil
	case <-f.done:
		f.mu.Lock()
		err := f.dropErr
		f.mu.Unlock()
		if err == nil {
			err = ErrTransportClosed
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *FakeTransport) Write(_ context.Context, payload []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrTransportClosed
	}
	f.writes = append(f.writes, append([]byte(nil), payload...))
	hook := f.OnWrite
	f.mu.Unlock()
	if hook != nil {
		hook(f, payload)
	}
	return nil
}

func (f *FakeTransport) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrTransportClosed
	}
	f.pings++
	return nil
}

func (f *FakeTransport) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.graceful = true
		close(f.done)
	}
	return nil
}

func (f *FakeTransport) CloseNow() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

// Writes returns a copy of every recorded outbound frame.
func (f *FakeTransport) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// Pings returns the number of protocol pings sent.
func (f *FakeTransport) Pings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// Closed reports whether the transport is closed and whether it closed gracefully.
func (f *FakeTransport) Closed() (closed bool, graceful bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.graceful
}
