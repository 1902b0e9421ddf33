package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("REPLAY_TEST_RESULTS_DIR", "")
	cfg, err := FromEnv()
	if err == nil {
		t.Fatalf("FromEnv() expected error for blank results dir, got %+v", cfg)
	}

	for _, key := range []string{"REPLAY_TEST_RESULTS_DIR", "REPLAY_TEST_RECORDER_CMD", "REPLAY_TEST_PLAYER_CMD", "REPLAY_TEST_ARTIFACTS_BUCKET"} {
		t.Setenv(key, "")
	}
	unsetenv(t, "REPLAY_TEST_RESULTS_DIR")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err=%v", err)
	}
	if cfg.ResultsRoot != defaultResultsRoot {
		t.Fatalf("ResultsRoot=%q, want %q", cfg.ResultsRoot, defaultResultsRoot)
	}
	if cfg.ClockHz != 10000 || cfg.RunTimeout != 30*time.Minute {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.UploadArtifacts {
		t.Fatalf("UploadArtifacts=true without bucket")
	}
	if cfg.PlayerCmd[0] != "ros2" {
		t.Fatalf("PlayerCmd=%v", cfg.PlayerCmd)
	}
}

func TestFromEnv_CI(t *testing.T) {
	unsetenv(t, "REPLAY_TEST_RESULTS_DIR")
	t.Setenv("CI", "true")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err=%v", err)
	}
	if cfg.ResultsRoot != defaultCIResultsRoot {
		t.Fatalf("ResultsRoot=%q, want %q", cfg.ResultsRoot, defaultCIResultsRoot)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REPLAY_TEST_RESULTS_DIR", dir)
	t.Setenv("REPLAY_TEST_RUN_TIMEOUT", "0")
	t.Setenv("REPLAY_TEST_PLAYER_CMD", "mcap-play {{.Input}}")
	t.Setenv("REPLAY_TEST_ARTIFACTS_BUCKET", "results")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() err=%v", err)
	}
	if cfg.RunTimeout != 0 {
		t.Fatalf("RunTimeout=%v, want 0", cfg.RunTimeout)
	}
	if len(cfg.PlayerCmd) != 2 || cfg.PlayerCmd[1] != "{{.Input}}" {
		t.Fatalf("PlayerCmd=%v", cfg.PlayerCmd)
	}
	if !cfg.UploadArtifacts {
		t.Fatalf("UploadArtifacts=false with bucket set")
	}
	session, err := cfg.SessionDir("abc")
	if err != nil {
		t.Fatalf("SessionDir() err=%v", err)
	}
	if session != filepath.Join(dir, "abc") {
		t.Fatalf("SessionDir()=%q", session)
	}

	t.Setenv("REPLAY_TEST_CLOCK_HZ", "-1")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("FromEnv() expected error for negative clock")
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() err=%v", err)
	}
}
