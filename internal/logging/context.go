package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const loggerKey contextKey = "logger"

// GenerateTraceID returns a random hex trace ID.
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext stores a logger in a context.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TickContext returns a logger bound to one scheduler tick, identified by a
// fresh trace ID so a tick's log lines can be correlated across users.
func TickContext() *Logger {
	return Default().WithComponent("tick").WithField("trace_id", GenerateTraceID())
}

// SignalContext returns a logger bound to one generated trading signal.
func SignalContext(userID int64, stockCode, signalType string, confidence float64) *Logger {
	return Default().WithComponent("signal").WithFields(map[string]any{
		"user_id":    userID,
		"stock_code": stockCode,
		"signal":     signalType,
		"confidence": confidence,
	})
}

// OrderContext returns a logger bound to one order placement.
func OrderContext(userID int64, stockCode, side string, quantity int) *Logger {
	return Default().WithComponent("order").WithFields(map[string]any{
		"user_id":    userID,
		"stock_code": stockCode,
		"side":       side,
		"quantity":   quantity,
	})
}

// AlertContext returns a logger bound to one pending trade alert.
func AlertContext(alertID string, userID int64, stockCode string) *Logger {
	return Default().WithComponent("alert").WithFields(map[string]any{
		"alert_id":   alertID,
		"user_id":    userID,
		"stock_code": stockCode,
	})
}

// RiskContext returns a logger bound to one position risk evaluation.
func RiskContext(userID int64, stockCode string, profitPct float64) *Logger {
	return Default().WithComponent("risk").WithFields(map[string]any{
		"user_id":    userID,
		"stock_code": stockCode,
		"profit_pct": profitPct,
	})
}
