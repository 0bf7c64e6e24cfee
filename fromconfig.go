package whyfail

import (
	"context"
	"fmt"
	"os"

	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/backend/rpcws"
	"github.com/whyfailclub/whyfail.go/pkg/backend/sqlite"
	"github.com/whyfailclub/whyfail.go/pkg/config"
	"github.com/whyfailclub/whyfail.go/pkg/live"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// FromConfig opens the backend cfg names and builds a client over it.
// Logs go to stderr unless opts set a logger.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := cfg.Logging.NewLogger(os.Stderr)
	if err != nil {
		return nil, err
	}

	backend, err := OpenBackend(ctx, cfg.Backend, l)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(l),
		WithIdentity(remote.StaticIdentity(cfg.Identity.UserID)),
		WithStaleTime(cfg.Cache.StaleTime),
		WithGCGrace(cfg.Cache.GCGrace),
		WithRetryer(RetryerFromConfig(cfg.Live)),
	}
	return New(backend, append(base, opts...)...), nil
}

// OpenBackend opens the adapter of cfg.Kind.
func OpenBackend(ctx context.Context, cfg config.BackendConfig, l logger.Logger) (remote.Collaborator, error) {
	switch cfg.Kind {
	case config.BackendMemory:
		return memory.New(memory.WithLogger(l)), nil
	case config.BackendSQLite:
		opts := []sqlite.Option{sqlite.WithLogger(l)}
		if cfg.PollInterval > 0 {
			opts = append(opts, sqlite.WithPollInterval(cfg.PollInterval))
		}
		return sqlite.Open(ctx, cfg.SQLitePath, opts...)
	case config.BackendWS:
		return rpcws.New(cfg.URL, rpcws.WithLogger(l), rpcws.WithTimeout(cfg.RequestTimeout))
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
}

// RetryerFromConfig returns a factory of exponential backoff retryers with
// the configured policy.
func RetryerFromConfig(cfg config.LiveConfig) func() live.Retryer {
	return func() live.Retryer {
		r := live.NewExponentialBackoffRetryer()
		if cfg.InitialDelay > 0 {
			r.InitialDelay = cfg.InitialDelay
		}
		if cfg.MaxDelay > 0 {
			r.MaxDelay = cfg.MaxDelay
		}
		if cfg.Multiplier >= 1 {
			r.Multiplier = cfg.Multiplier
		}
		r.MaxRetries = cfg.MaxRetries
		r.JitterFactor = cfg.JitterFactor
		r.Jitter = cfg.JitterFactor > 0
		return r
	}
}
