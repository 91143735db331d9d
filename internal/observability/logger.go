// Package observability builds the process logger and shared log field helpers.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coachpo/tradelink/internal/domain/schema"
)

// LoggerConfig selects the zap encoder and minimum level.
type LoggerConfig struct {
	Level       string
	Development bool
	Encoding    string
}

// NewLogger builds a zap logger from cfg. Unknown levels fall back to info.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if enc := strings.TrimSpace(cfg.Encoding); enc != "" {
		zcfg.Encoding = enc
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// User tags a log entry with the user id.
func User(userID string) zap.Field { return zap.String("user", userID) }

// Exchange tags a log entry with the exchange kind.
func Exchange(kind schema.ExchangeKind) zap.Field { return zap.String("exchange", string(kind)) }

// Conn tags a log entry with the user, exchange and connection session id.
func Conn(userID string, kind schema.ExchangeKind, session string) []zap.Field {
	fields := []zap.Field{User(userID), Exchange(kind)}
	if session != "" {
		fields = append(fields, zap.String("session", session))
	}
	return fields
}

// OrNop returns logger or a no-op logger when nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
