// Package logger provides a structured logging interface for vkharvest.
//
// It wraps zerolog with a small API:
//
//	logger.Initialize(&config.LoggingConfig{Level: "info"})
//	logger.WithField("source", "durov").Info("Fetching wall page")
//	logger.WithError(err).Error("Checkpoint flush failed")
//
// Console output is colored and goes to stderr. When a log file is
// configured, JSON lines are appended to it as well.
//
// Tests use NewNopLogger to silence output or NewTestLogger to capture
// messages and assert on them.
package logger
