// Package logging provides categorized structured logging for conduit, built
// on zap. Each subsystem logs through a named child logger so categories can
// be grepped and silenced independently. Level is config-driven and can be
// changed at runtime through the shared atomic level.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one logging subsystem.
type Category string

const (
	CategoryKernel    Category = "kernel"
	CategoryBridge    Category = "bridge"
	CategoryReply     Category = "reply"
	CategoryAssembler Category = "assembler"
	CategoryExpert    Category = "expert"
	CategoryRealtime  Category = "realtime"
	CategoryProvider  Category = "provider"
	CategoryStore     Category = "store"
	CategoryConfig    Category = "config"
	CategoryTUI       Category = "tui"
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	sugared = make(map[Category]*zap.SugaredLogger)
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize installs the process logger. debug selects development encoding
// and the debug level; production uses JSON at info. Safe to call more than
// once; later calls replace the logger (used by tests and config reload).
func Initialize(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		level.SetLevel(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		level.SetLevel(zapcore.InfoLevel)
	}
	cfg.Level = level

	logger, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	root = logger
	sugared = make(map[Category]*zap.SugaredLogger)
	return nil
}

// SetLevel changes the level of every category logger at runtime.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Get returns the sugared logger for a category, creating it on first use.
// Usable before Initialize: falls back to a no-op logger.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if s, ok := sugared[cat]; ok {
		mu.RUnlock()
		return s
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugared[cat]; ok {
		return s
	}
	base := root
	if base == nil {
		base = zap.NewNop()
	}
	s := base.Named(string(cat)).Sugar()
	sugared[cat] = s
	return s
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// Convenience printf-style helpers for the hot subsystems.

func Kernel(format string, args ...interface{}) { Get(CategoryKernel).Infof(format, args...) }
func KernelDebug(format string, args ...interface{}) {
	Get(CategoryKernel).Debugf(format, args...)
}
func Bridge(format string, args ...interface{}) { Get(CategoryBridge).Infof(format, args...) }
func BridgeDebug(format string, args ...interface{}) {
	Get(CategoryBridge).Debugf(format, args...)
}
func Reply(format string, args ...interface{})     { Get(CategoryReply).Infof(format, args...) }
func Assembler(format string, args ...interface{}) { Get(CategoryAssembler).Debugf(format, args...) }
func Expert(format string, args ...interface{})    { Get(CategoryExpert).Infof(format, args...) }
func Realtime(format string, args ...interface{})  { Get(CategoryRealtime).Infof(format, args...) }
func Provider(format string, args ...interface{})  { Get(CategoryProvider).Debugf(format, args...) }
func Store(format string, args ...interface{})     { Get(CategoryStore).Debugf(format, args...) }
