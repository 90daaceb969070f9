// Package logging builds the single logrus.Logger shared across the sieve
// and estimator. Verbosity is always passed in at construction time rather
// than read from a mutated global, per SPEC_FULL.md §4.10.
package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logger at the given level ("debug", "info", "warn", "error").
// An empty level falls back to "info", or "debug" when verbose is set.
func New(level string, verbose bool, color bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     color,
	})

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}
	}

	return logger
}

// ProgressLogger reports progress at a configured step, the way the sieve's
// next_print schedule does: print, then grow the step by 10x, bounded above.
type ProgressLogger struct {
	logger    *logrus.Logger
	prefix    string
	nextPrint uint64
	step      uint64
	maxStep   uint64
}

// NewProgressLogger starts reporting at firstStep, growing 10x each time it
// fires up to maxStep (10_000 -> ... -> 1e11, matching the sieve's schedule).
func NewProgressLogger(logger *logrus.Logger, prefix string, firstStep, maxStep uint64) *ProgressLogger {
	return &ProgressLogger{
		logger:    logger,
		prefix:    prefix,
		nextPrint: firstStep,
		step:      firstStep,
		maxStep:   maxStep,
	}
}

// ShouldPrint reports whether value has crossed the next print boundary, and
// if so advances the schedule. Callers must only sample this at safe
// boundaries (never inside a hot inner loop) per SPEC_FULL.md §5.
func (p *ProgressLogger) ShouldPrint(value uint64) bool {
	if value < p.nextPrint {
		return false
	}
	p.step *= 10
	if p.step > p.maxStep {
		p.step = p.maxStep
	}
	p.nextPrint += p.step
	return true
}

// Printf logs at info level with the progress logger's prefix.
func (p *ProgressLogger) Printf(format string, args ...interface{}) {
	p.logger.Infof(p.prefix+format, args...)
}
