// Package logger wraps zap for structured, context-scoped logging across
// the entitlement and billing core.
package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
}

// Global logger for call sites that cannot take a constructor argument
// (package init hooks). Every constructed service takes a *Logger by
// dependency injection instead.
var L *Logger

func NewLogger() (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

func init() {
	L, _ = NewLogger()
}

// NewNop returns a logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func GetLogger() *Logger {
	if L == nil {
		L, _ = NewLogger()
	}
	return L
}

func GetLoggerWithContext(ctx context.Context) *Logger {
	return GetLogger().WithContext(ctx)
}

func (l *Logger) Debugf(template string, args ...interface{}) { l.SugaredLogger.Debugf(template, args...) }
func (l *Logger) Infof(template string, args ...interface{})  { l.SugaredLogger.Infof(template, args...) }
func (l *Logger) Warnf(template string, args ...interface{})  { l.SugaredLogger.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...interface{}) { l.SugaredLogger.Errorf(template, args...) }
func (l *Logger) Fatalf(template string, args ...interface{}) { l.SugaredLogger.Fatalf(template, args...) }

// ctxKey is the context key type for the identifiers WithContext attaches to every
// log line emitted for a single verify/report call or billing run.
type ctxKey string

const (
	KeyRequestID      ctxKey = "request_id"
	KeyProjectID      ctxKey = "project_id"
	KeyCustomerID     ctxKey = "customer_id"
	KeySubscriptionID ctxKey = "subscription_id"
)

func WithValue(ctx context.Context, key ctxKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

func fromCtx(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(
			string(KeyRequestID), fromCtx(ctx, KeyRequestID),
			string(KeyProjectID), fromCtx(ctx, KeyProjectID),
			string(KeyCustomerID), fromCtx(ctx, KeyCustomerID),
			string(KeySubscriptionID), fromCtx(ctx, KeySubscriptionID),
		),
	}
}
