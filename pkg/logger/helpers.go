package logger

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LogAPIError logs an error envelope returned by the remote API
func LogAPIError(l Logger, source string, code int, message, action string) {
	l.WithFields(map[string]interface{}{
		"source":     source,
		"error_code": code,
		"action":     action,
	}).Warn(message)
}

// LogBackoff logs a deliberate pause in the crawl loop
func LogBackoff(l Logger, reason string, d time.Duration) {
	l.WithFields(map[string]interface{}{
		"reason":   reason,
		"duration": d,
		"action":   "sleep",
	}).Warn("Backing off")
}

// LogPage logs the outcome of one processed wall page
func LogPage(l Logger, source string, offset, items, written int) {
	l.DebugWithFields("Page processed", map[string]interface{}{
		"source":  source,
		"offset":  offset,
		"items":   items,
		"written": written,
	})
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	log := l.WithField("component", component)
	if len(config) > 0 {
		log = log.WithFields(config)
	}
	log.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}
