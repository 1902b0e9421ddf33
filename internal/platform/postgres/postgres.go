// Package postgres opens the optional results ledger database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/animus-labs/replay-testing/internal/platform/env"
)

const defaultApplicationName = "replay-test"

type Config struct {
	URL             string
	ApplicationName string
	PingTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// ConfigFromEnv reads the ledger settings. An empty REPLAY_TEST_LEDGER_URL leaves
// the ledger disabled and skips validation.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL:             strings.TrimSpace(env.String("REPLAY_TEST_LEDGER_URL", "")),
		ApplicationName: strings.TrimSpace(env.String("REPLAY_TEST_LEDGER_APP_NAME", defaultApplicationName)),
	}
	var err error
	if cfg.PingTimeout, err = env.Duration("REPLAY_TEST_LEDGER_PING_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxOpenConns, err = env.Int("REPLAY_TEST_LEDGER_MAX_OPEN_CONNS", 2); err != nil {
		return Config{}, err
	}
	if cfg.ConnMaxLifetime, err = env.Duration("REPLAY_TEST_LEDGER_CONN_MAX_LIFETIME", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return errors.New("REPLAY_TEST_LEDGER_URL is required")
	}
	if _, err := pgx.ParseConfig(c.URL); err != nil {
		return fmt.Errorf("REPLAY_TEST_LEDGER_URL: %w", err)
	}
	if c.PingTimeout <= 0 {
		return errors.New("REPLAY_TEST_LEDGER_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("REPLAY_TEST_LEDGER_MAX_OPEN_CONNS must be >= 1")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("REPLAY_TEST_LEDGER_CONN_MAX_LIFETIME must be >= 0")
	}
	return nil
}

// Redacted returns the URL with its password masked, for logging.
func (c Config) Redacted() string {
	u, err := url.Parse(c.URL)
	if err != nil || u.User == nil {
		return c.URL
	}
	return u.Redacted()
}

// Open connects through the pgx stdlib driver and pings the server. Sessions are
// tagged with ApplicationName so ledger writers show up in pg_stat_activity.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse ledger url: %w", err)
	}
	if cfg.ApplicationName != "" {
		connCfg.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	db := stdlib.OpenDB(*connCfg)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger %s: %w", cfg.Redacted(), err)
	}
	return db, nil
}
