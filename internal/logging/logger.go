package logging

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logger.V(...).
const (
	DEFAULT = 0
	VERBOSE = 3
	DEBUG   = 4
	TRACE   = 5
)

var (
	mu          sync.Mutex
	atomicLevel = uberzap.NewAtomicLevelAt(zapcore.InfoLevel)
	base        logr.Logger
)

// NewLogger returns a production JSON logger at the given verbosity.
func NewLogger(verbosity int) logr.Logger {
	cfg := uberzap.NewProductionConfig()
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(-1 * verbosity))
	z, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

// NewTestLogger creates a new Zap logger using the dev mode.
func NewTestLogger() logr.Logger {
	cfg := uberzap.NewDevelopmentConfig()
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(-1 * TRACE))
	z, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(z)
}

// InitLogging sets the package logger used when a port is built without
// an explicit one.
func InitLogging(verbosity int) {
	atomicLevel.SetLevel(zapcore.Level(-1 * verbosity))

	cfg := uberzap.NewProductionConfig()
	cfg.Level = atomicLevel
	z, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		return
	}
	mu.Lock()
	base = zapr.NewLogger(z)
	mu.Unlock()
}

// SetLogger replaces the package logger.
func SetLogger(l logr.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// Logger returns the package logger, a discarding one until InitLogging or
// SetLogger is called.
func Logger() logr.Logger {
	mu.Lock()
	defer mu.Unlock()
	if base.GetSink() == nil {
		return logr.Discard()
	}
	return base
}

// Fatal calls logger.Error followed by os.Exit(1).
//
// This is a utility function and should not be used in library code!
func Fatal(logger logr.Logger, err error, msg string, keysAndValues ...interface{}) {
	logger.Error(err, msg, keysAndValues...)
	os.Exit(1)
}

// Panic logs the violated invariant and panics with it. Library code uses it
// for corruption that must never be observable.
func Panic(logger logr.Logger, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(nil, "fatal invariant violation", "invariant", msg)
	panic("zcipc: " + msg)
}
