// Package config loads the client configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whyfailclub/whyfail.go/pkg/constants"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
)

type BackendKind string

const (
	BackendMemory BackendKind = "memory"
	BackendSQLite BackendKind = "sqlite"
	BackendWS     BackendKind = "ws"
)

// Environment variables overriding the file.
const (
	EnvBackend    = "WHYFAIL_BACKEND"
	EnvURL        = "WHYFAIL_URL"
	EnvSQLitePath = "WHYFAIL_SQLITE_PATH"
	EnvUser       = "WHYFAIL_USER"
	EnvLogLevel   = "WHYFAIL_LOG_LEVEL"
)

type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Cache    CacheConfig    `yaml:"cache"`
	Live     LiveConfig     `yaml:"live"`
	Logging  LoggingConfig  `yaml:"logging"`
	Identity IdentityConfig `yaml:"identity"`
}

type BackendConfig struct {
	Kind           BackendKind   `yaml:"kind"`
	URL            string        `yaml:"url"`
	SQLitePath     string        `yaml:"sqlite_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type CacheConfig struct {
	// StaleTime zero means every read refetches.
	StaleTime time.Duration `yaml:"stale_time"`
	GCGrace   time.Duration `yaml:"gc_grace"`
}

// LiveConfig is the reconnect policy of live channels.
type LiveConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	// MaxRetries zero retries forever.
	MaxRetries   int     `yaml:"max_retries"`
	JitterFactor float64 `yaml:"jitter_factor"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is text (slog), json or console (zerolog).
	Format string `yaml:"format"`
}

type IdentityConfig struct {
	UserID string `yaml:"user_id"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Kind:           BackendMemory,
			SQLitePath:     "whyfail.db",
			RequestTimeout: constants.DefaultWSTimeout,
			PollInterval:   constants.DefaultPollInterval,
		},
		Cache: CacheConfig{
			StaleTime: constants.DefaultStaleTime,
			GCGrace:   constants.DefaultGCGrace,
		},
		Live: LiveConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.3,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping the fields the document leaves out.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment, read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend.Kind = BackendKind(v)
	}
	if v, ok := lookup(EnvURL); ok && v != "" {
		c.Backend.URL = v
	}
	if v, ok := lookup(EnvSQLitePath); ok && v != "" {
		c.Backend.SQLitePath = v
	}
	if v, ok := lookup(EnvUser); ok {
		c.Identity.UserID = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Kind {
	case BackendMemory:
	case BackendSQLite:
		if c.Backend.SQLitePath == "" {
			errs = append(errs, errors.New("backend.sqlite_path is required for the sqlite backend"))
		}
	case BackendWS:
		if c.Backend.URL == "" {
			errs = append(errs, fmt.Errorf("backend.url: %w", constants.ErrNoBaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.kind: unknown backend %q", c.Backend.Kind))
	}
	if c.Backend.RequestTimeout < 0 {
		errs = append(errs, errors.New("backend.request_timeout must not be negative"))
	}
	if c.Backend.PollInterval < 0 {
		errs = append(errs, errors.New("backend.poll_interval must not be negative"))
	}
	if c.Cache.StaleTime < 0 || c.Cache.GCGrace < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}
	if c.Live.Multiplier != 0 && c.Live.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("live.multiplier must be at least 1, got %v", c.Live.Multiplier))
	}
	if c.Live.JitterFactor < 0 || c.Live.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("live.jitter_factor must be between 0 and 1, got %v", c.Live.JitterFactor))
	}
	if c.Live.MaxRetries < 0 {
		errs = append(errs, errors.New("live.max_retries must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "", "text", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the configured logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (logger.Logger, error) {
	switch c.Format {
	case "json":
		return logger.NewZerologWriter(w, c.Level, false)
	case "console":
		return logger.NewZerologWriter(w, c.Level, true)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(levelOrInfo(c.Level)))); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	return logger.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func levelOrInfo(level string) string {
	switch strings.ToLower(level) {
	case "":
		return "info"
	case "warning":
		return "warn"
	}
	return level
}
