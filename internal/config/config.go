// Package config resolves the harness settings from the environment.
package config

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/replay-testing/internal/platform/env"
)

const (
	defaultResultsRoot   = "/tmp/replay_testing"
	defaultCIResultsRoot = "test_results/replay_testing"
	defaultCacheDir      = "/tmp/replay_testing/.cache"
	defaultClockHz       = 10000
	defaultRunTimeout    = 30 * time.Minute
)

var (
	// DefaultRecorderCmd records every topic into an MCAP file under {{.OutputDir}}.
	DefaultRecorderCmd = []string{"ros2", "bag", "record", "--all", "--storage", "mcap", "--output", "{{.OutputDir}}"}
	// DefaultPlayerCmd replays {{.Input}} and publishes /clock at {{.ClockHz}}.
	DefaultPlayerCmd = []string{"ros2", "bag", "play", "{{.Input}}", "--clock", "{{.ClockHz}}"}
)

type Config struct {
	ResultsRoot      string
	CacheDir         string
	ClockHz          int
	RunTimeout       time.Duration
	SigtermTimeout   time.Duration
	SigkillTimeout   time.Duration
	RecorderCmd      []string
	PlayerCmd        []string
	ArtifactsBucket  string
	ArtifactsPrefix  string
	UploadArtifacts  bool
	KeepTransientDir bool
}

func FromEnv() (Config, error) {
	root := defaultResultsRoot
	if env.Set("CI") {
		root = defaultCIResultsRoot
	}
	clockHz, err := env.Int("REPLAY_TEST_CLOCK_HZ", defaultClockHz)
	if err != nil {
		return Config{}, err
	}
	runTimeout, err := env.Duration("REPLAY_TEST_RUN_TIMEOUT", defaultRunTimeout)
	if err != nil {
		return Config{}, err
	}
	sigterm, err := env.Duration("REPLAY_TEST_SIGTERM_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	sigkill, err := env.Duration("REPLAY_TEST_SIGKILL_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	keep, err := env.Bool("REPLAY_TEST_KEEP_TRANSIENT", false)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ResultsRoot:      strings.TrimSpace(env.String("REPLAY_TEST_RESULTS_DIR", root)),
		CacheDir:         strings.TrimSpace(env.String("REPLAY_TEST_CACHE_DIR", defaultCacheDir)),
		ClockHz:          clockHz,
		RunTimeout:       runTimeout,
		SigtermTimeout:   sigterm,
		SigkillTimeout:   sigkill,
		RecorderCmd:      env.Fields("REPLAY_TEST_RECORDER_CMD", DefaultRecorderCmd),
		PlayerCmd:        env.Fields("REPLAY_TEST_PLAYER_CMD", DefaultPlayerCmd),
		ArtifactsBucket:  strings.TrimSpace(env.String("REPLAY_TEST_ARTIFACTS_BUCKET", "")),
		ArtifactsPrefix:  strings.Trim(strings.TrimSpace(env.String("REPLAY_TEST_ARTIFACTS_PREFIX", "replay_testing")), "/"),
		KeepTransientDir: keep,
	}
	cfg.UploadArtifacts = cfg.ArtifactsBucket != ""
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the settings used when no environment overrides apply.
func Default() Config {
	return Config{
		ResultsRoot:    defaultResultsRoot,
		CacheDir:       defaultCacheDir,
		ClockHz:        defaultClockHz,
		RunTimeout:     defaultRunTimeout,
		SigtermTimeout: 5 * time.Second,
		SigkillTimeout: 5 * time.Second,
		RecorderCmd:    append([]string(nil), DefaultRecorderCmd...),
		PlayerCmd:      append([]string(nil), DefaultPlayerCmd...),
	}
}

func (c Config) Validate() error {
	if c.ResultsRoot == "" {
		return errors.New("REPLAY_TEST_RESULTS_DIR is required")
	}
	if c.ClockHz <= 0 {
		return errors.New("REPLAY_TEST_CLOCK_HZ must be positive")
	}
	if c.RunTimeout < 0 {
		return errors.New("REPLAY_TEST_RUN_TIMEOUT must be >= 0")
	}
	if c.SigtermTimeout <= 0 || c.SigkillTimeout <= 0 {
		return errors.New("shutdown timeouts must be positive")
	}
	if len(c.RecorderCmd) == 0 {
		return errors.New("REPLAY_TEST_RECORDER_CMD is required")
	}
	if len(c.PlayerCmd) == 0 {
		return errors.New("REPLAY_TEST_PLAYER_CMD is required")
	}
	if c.UploadArtifacts && c.ArtifactsBucket == "" {
		return errors.New("REPLAY_TEST_ARTIFACTS_BUCKET is required for artifact upload")
	}
	return nil
}

// SessionDir is the results directory of one session.
func (c Config) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(c.ResultsRoot, sessionID)
	return filepath.Abs(dir)
}
