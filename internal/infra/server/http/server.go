// Package httpserver exposes the connector's admin HTTP surface: health, connection
// introspection and an HTTP ingress for control commands.
package httpserver

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/tradelink/internal/app/supervisor"
	"github.com/coachpo/tradelink/internal/domain/schema"
)

const (
	maxJSONBodyBytes int64 = 64 << 10

	healthPath        = "/healthz"
	connectionsPrefix = "/connections/"
	controlPath       = "/control"
)

// Inspector reports connection state.
type Inspector interface {
	Live(key supervisor.Key) bool
	LiveCount() int
	BackoffFor(key supervisor.Key) time.Duration
}

// Dispatcher accepts a raw control command.
type Dispatcher interface {
	Handle(ctx context.Context, payload []byte)
}

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	environment string
	inspector   Inspector
	dispatcher  Dispatcher
	// ctx scopes dispatched commands; it is not the request context.
	ctx context.Context
}

// NewHandler builds the admin handler. Commands posted to /control run on ctx.
func NewHandler(ctx context.Context, environment string, inspector Inspector, dispatcher Dispatcher) http.Handler {
	server := &httpServer{environment: environment, inspector: inspector, dispatcher: dispatcher, ctx: ctx}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(connectionsPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.connection,
	}))
	mux.Handle(controlPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.control,
	}))
	return mux
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.environment,
		"connections": s.inspector.LiveCount(),
	})
}

// connection serves /connections/{exchange}/{userId}.
func (s *httpServer) connection(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, connectionsPrefix), "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusNotFound, "expected /connections/{exchange}/{userId}")
		return
	}
	kind, err := schema.ParseExchangeKind(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := supervisor.Key{UserID: parts[1], Exchange: kind}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       key.UserID,
		"exchangeKind": key.Exchange,
		"live":         s.inspector.Live(key),
		"backoffMs":    s.inspector.BackoffFor(key).Milliseconds(),
	})
}

func (s *httpServer) control(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	cmd, err := schema.DecodeControlCommand(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
		if payload, err = cmd.Encode(); err != nil {
			writeError(w, http.StatusInternalServerError, "encode control command")
			return
		}
	}
	s.dispatcher.Handle(s.ctx, payload)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"id":           cmd.ID,
		"op":           cmd.Op,
		"userId":       cmd.UserID,
		"exchangeKind": cmd.ExchangeKind,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
