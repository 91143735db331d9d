// Package errs provides the structured error envelope shared by tradelink components.
package errs

import (
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeAuth indicates authentication or credential failures.
	CodeAuth Code = "auth"
	// CodeInvalid indicates malformed input, including undecodable frames and control messages.
	CodeInvalid Code = "invalid_request"
	// CodeExchange indicates the exchange rejected a request.
	CodeExchange Code = "exchange_error"
	// CodeNetwork indicates a transport failure.
	CodeNetwork Code = "network"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeTimeout indicates an operation exceeded its deadline.
	CodeTimeout Code = "timeout"
	// CodeUnavailable indicates a dependency is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information for a single exchange interaction.
type E struct {
	Exchange string
	Code     Code
	Stage    string
	RawCode  string
	RawMsg   string
	Message  string
	Fields   map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the exchange and error code.
func New(exchange string, code Code, opts ...Option) *E {
	e := &E{
		Exchange: strings.TrimSpace(exchange),
		Code:     code,
		Stage:    "",
		RawCode:  "",
		RawMsg:   "",
		Message:  "",
		Fields:   nil,
		cause:    nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithStage records the lifecycle stage (connect, login, subscribe, decode) that failed.
func WithStage(stage string) Option {
	trimmed := strings.TrimSpace(stage)
	return func(e *E) {
		e.Stage = trimmed
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single key/value pair of context.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("exchange=" + orUnknown(e.Exchange))
	b.WriteString(" code=" + orUnknown(string(e.Code)))
	if e.Stage != "" {
		b.WriteString(" stage=" + e.Stage)
	}
	quoted := func(key, value string) {
		if value != "" {
			b.WriteString(" " + key + "=" + strconv.Quote(value))
		}
	}
	quoted("message", e.Message)
	quoted("raw_code", e.RawCode)
	quoted("raw_msg", e.RawMsg)
	if len(e.Fields) > 0 {
		b.WriteString(" fields=")
		for i, k := range slices.Sorted(maps.Keys(e.Fields)) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k + "=" + strconv.Quote(e.Fields[k]))
		}
	}
	if e.cause != nil {
		quoted("cause", e.cause.Error())
	}
	return b.String()
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "unknown"
	}
	return s
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf returns the code of the first envelope in err's chain, or "" when none is present.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries an envelope with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
