package whyfail_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/backend/rpcws"
	"github.com/whyfailclub/whyfail.go/pkg/backend/sqlite"
	"github.com/whyfailclub/whyfail.go/pkg/config"
	"github.com/whyfailclub/whyfail.go/pkg/live"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
)

func TestFromConfigBuildsBackend(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, c *whyfail.Client)
	}{
		{"memory", func(*config.Config) {}, func(t *testing.T, c *whyfail.Client) {
			assert.IsType(t, &memory.Backend{}, c.Backend())
		}},
		{"sqlite", func(cfg *config.Config) {
			cfg.Backend.Kind = config.BackendSQLite
			cfg.Backend.SQLitePath = filepath.Join(t.TempDir(), "whyfail.db")
		}, func(t *testing.T, c *whyfail.Client) {
			assert.IsType(t, &sqlite.Backend{}, c.Backend())
		}},
		{"ws", func(cfg *config.Config) {
			cfg.Backend.Kind = config.BackendWS
			cfg.Backend.URL = "ws://127.0.0.1:1/rpc"
		}, func(t *testing.T, c *whyfail.Client) {
			assert.IsType(t, &rpcws.Client{}, c.Backend())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Identity.UserID = "u1"
			tt.mutate(cfg)

			c, err := whyfail.FromConfig(ctx, cfg, whyfail.WithLogger(logger.Nop()))
			require.NoError(t, err)
			defer c.Close(ctx)

			tt.check(t, c)
			uid, err := c.CurrentUser(ctx)
			require.NoError(t, err)
			assert.Equal(t, "u1", uid)
		})
	}
}

func TestFromConfigRejectsInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Kind = config.BackendWS
	_, err := whyfail.FromConfig(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRetryerFromConfig(t *testing.T) {
	newRetryer := whyfail.RetryerFromConfig(config.LiveConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
		MaxRetries:   3,
	})
	r := newRetryer()
	require.IsType(t, &live.ExponentialBackoffRetryer{}, r)

	var delays []time.Duration
	for attempt := 0; ; attempt++ {
		d, ok := r.NextDelay(attempt, nil)
		if !ok {
			break
		}
		delays = append(delays, d)
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, delays)
}
