package config

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger lazily builds the zap logger behind Config.Log. DefaultConfig
// allocates it and Logger never writes the pointer.
type logger struct {
	once  sync.Once
	sugar *zap.SugaredLogger
}

// zeroLogger serves Configs not made by DefaultConfig.
var zeroLogger = &logger{}

// Log writes a message if level <= the configured verbosity.
// Level 0 is always written and reported as an error.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if c == nil || level > c.Logging.Verbosity {
		return
	}
	sugar := c.Logger()
	switch level {
	case 0:
		sugar.Errorf(format, args...)
	case 1:
		sugar.Infof(format, args...)
	default:
		sugar.Debugf(format, args...)
	}
}

// Logger returns the sugared logger used by Log.
func (c *Config) Logger() *zap.SugaredLogger {
	l := c.logger
	if l == nil {
		l = zeroLogger
	}
	l.once.Do(func() {
		l.sugar = c.buildLogger().Sugar()
	})
	return l.sugar
}

// SetLogger replaces the logger, mainly for tests. Call it before the Config
// is shared between goroutines.
func (c *Config) SetLogger(l *zap.Logger) {
	c.logger = &logger{sugar: l.Sugar()}
	c.logger.once.Do(func() {})
}

// Sync flushes buffered log output.
func (c *Config) Sync() {
	if c != nil && c.logger != nil && c.logger.sugar != nil {
		_ = c.logger.sugar.Sync()
	}
}

func (c *Config) buildLogger() *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if c.Logging.File != "" {
		zc.OutputPaths = []string{c.Logging.File}
		zc.ErrorOutputPaths = []string{c.Logging.File}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}
	l, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "xwalk-lua: falling back to stderr logging: %v\n", err)
		l, _ = zap.NewDevelopment()
	}
	return l.Named("xwalk-lua")
}
