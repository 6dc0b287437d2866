package types

import (
	"errors"
	"time"
)

// Config holds backend selection and parameters for Backend.Attach.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// URL is the websocket endpoint of a realtime server.
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	// DialTimeout bounds the realtime handshake. Zero uses the default.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// Supported backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRealtime = "realtime"
)

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrURLEmpty       = errors.New("realtime backend requires a url")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendMemory:   true,
	BackendSQLite:   true,
	BackendRealtime: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	if c.Backend == BackendRealtime && c.URL == "" {
		return ErrURLEmpty
	}
	return nil
}
