// Package logging builds the logrus loggers used across livedb.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Common field names.
const (
	FieldComponent = "component"
	FieldPath      = "path"
	FieldClass     = "class"
	FieldHandle    = "handle"
	FieldBackend   = "backend"
	FieldRemote    = "remote"
)

// Component names.
const (
	ComponentStore     = "store"
	ComponentWatch     = "watch"
	ComponentProject   = "projection"
	ComponentRealtime  = "realtime"
	ComponentRelay     = "relay"
	ComponentDashboard = "dashboard"
	ComponentCLI       = "cli"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects level, format and destination.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// New returns a logger for cfg. Empty fields default to info, text and
// stderr.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "", FormatText:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case FormatJSON:
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stderr)
	}
	return log, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

// Component returns log tagged with the component name. A nil log, including
// a nil *logrus.Logger or *logrus.Entry, yields a discarding logger.
func Component(log logrus.FieldLogger, name string) logrus.FieldLogger {
	if isNil(log) {
		log = Discard()
	}
	return log.WithField(FieldComponent, name)
}

func isNil(log logrus.FieldLogger) bool {
	switch l := log.(type) {
	case nil:
		return true
	case *logrus.Logger:
		return l == nil
	case *logrus.Entry:
		return l == nil
	}
	return false
}
