package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/coachpo/tradelink/internal/errs"
)

const (
	defaultReadLimit    = 2 * 1024 * 1024
	defaultWriteTimeout = 5 * time.Second
	defaultControlRate  = 10
	defaultControlBurst = 20
)

// Transport is a message-oriented duplex connection owned by one supervisor entry.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	// Ping sends a protocol-level ping and waits for the pong.
	Ping(ctx context.Context) error
	// Close performs a graceful close bounded by ctx and forces the close when ctx expires.
	Close(ctx context.Context) error
	CloseNow() error
}

// DialOptions tunes Dial.
type DialOptions struct {
	Header       http.Header
	ReadLimit    int64
	WriteTimeout time.Duration
	// ControlRate bounds outbound frames per second; zero selects the default.
	ControlRate  rate.Limit
	ControlBurst int
	HTTPClient   *http.Client
}

// WSTransport adapts a coder/websocket connection to Transport.
type WSTransport struct {
	exchange     string
	conn         *websocket.Conn
	writeTimeout time.Duration
	limiter      *rate.Limiter
	closeOnce    sync.Once
	closeErr     error
}

// Dial opens a websocket to url on behalf of exchange.
func Dial(ctx context.Context, exchange, url string, opts DialOptions) (*WSTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: opts.Header,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, errs.New(exchange, errs.CodeNetwork, errs.WithStage("connect"), errs.WithField("url", url), errs.WithCause(err))
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	conn.SetReadLimit(readLimit)
	return NewWSTransport(exchange, conn, opts), nil
}

// NewWSTransport wraps an established connection.
func NewWSTransport(exchange string, conn *websocket.Conn, opts DialOptions) *WSTransport {
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	limit := opts.ControlRate
	if limit <= 0 {
		limit = defaultControlRate
	}
	burst := opts.ControlBurst
	if burst <= 0 {
		burst = defaultControlBurst
	}
	return &WSTransport{
		exchange:     exchange,
		conn:         conn,
		writeTimeout: writeTimeout,
		limiter:      rate.NewLimiter(limit, burst),
		closeOnce:    sync.Once{},
		closeErr:     nil,
	}
}

func (t *WSTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *WSTransport) Write(ctx context.Context, payload []byte) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s write throttled: %w", t.exchange, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := t.conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		return errs.New(t.exchange, errs.CodeNetwork, errs.WithStage("write"), errs.WithCause(err))
	}
	return nil
}

func (t *WSTransport) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	return t.conn.Ping(pingCtx)
}

func (t *WSTransport) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			done <- t.conn.Close(websocket.StatusNormalClosure, "shutdown")
		}()
		select {
		case err := <-done:
			t.closeErr = normalizeCloseErr(err)
		case <-ctx.Done():
			t.closeErr = normalizeCloseErr(t.conn.CloseNow())
		}
	})
	return t.closeErr
}

func (t *WSTransport) CloseNow() error {
	t.closeOnce.Do(func() {
		t.closeErr = normalizeCloseErr(t.conn.CloseNow())
	})
	return t.closeErr
}

func normalizeCloseErr(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
