// Package logging provides per-category file loggers for the pipeline
// stages. Each category writes to its own date-stamped file so an operator
// can tail one stage without the noise of the others.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a pipeline stage log stream.
type Category string

const (
	CategoryIngest      Category = "ingest"
	CategoryMatch       Category = "match"
	CategoryDetect      Category = "detect"
	CategoryClassify    Category = "classify"
	CategoryEnrich      Category = "enrich"
	CategoryConsolidate Category = "consolidate"
	CategoryCache       Category = "cache"
	CategoryStore       Category = "store"
	CategoryAPI         Category = "api"
)

var (
	mu      sync.Mutex
	loggers = map[Category]*zap.SugaredLogger{}
	baseDir string
	enabled bool
	debug   bool
	nop     = zap.NewNop().Sugar()
)

// Initialize sets the log directory and enables category logging. Safe to
// call more than once; later calls replace the settings but already-opened
// loggers keep their files.
func Initialize(dir string, enable, debugMode bool) error {
	mu.Lock()
	defer mu.Unlock()

	baseDir = dir
	enabled = enable
	debug = debugMode
	if !enabled {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir %s: %w", dir, err)
	}
	return nil
}

// Get returns the logger for a category, opening its file on first use.
// Returns a no-op logger when logging is disabled or the file cannot be
// opened; callers never need to nil-check.
func Get(cat Category) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return nop
	}
	if l, ok := loggers[cat]; ok {
		return l
	}

	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), cat)
	f, err := os.OpenFile(filepath.Join(baseDir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		loggers[cat] = nop
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level)
	l := zap.New(core).Sugar().Named(string(cat))
	loggers[cat] = l
	return l
}

// Sync flushes all open category loggers.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
}

// Close flushes and forgets all loggers. Mainly for tests.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
	loggers = map[Category]*zap.SugaredLogger{}
	enabled = false
}
