package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/animus-labs/replay-testing/internal/logstore"
	"github.com/animus-labs/replay-testing/internal/report"
)

const showArgsDefinition = `
name: basic_replay
fixtures:
  inputs:
    - local: {path: fixtures/cmd_vel_only.mcap}
  input_topics: [/vehicle/cmd_vel]
  output_topics: [/user/cmd_vel]
run:
  parameters:
    - name: slow
    - name: fast
  processes:
    - name: sut
      cmd: [my_node]
analyze:
  assertions:
    - {name: has_input, type: topic_present, topic: /vehicle/cmd_vel}
`

func TestReportName(t *testing.T) {
	tests := []struct {
		pkg, file, want string
	}{
		{"my_pkg", "/src/test/replay/basic_replay.yaml", "my_pkg.basic_replay"},
		{"", "basic_replay.yml", "basic_replay"},
		{"  ", "a/b/c.yaml", "c"},
	}
	for _, tt := range tests {
		if got := reportName(tt.pkg, tt.file); got != tt.want {
			t.Fatalf("reportName(%q, %q)=%q, want %q", tt.pkg, tt.file, got, tt.want)
		}
	}
}

func TestParseOptions(t *testing.T) {
	var stdout, stderr bytes.Buffer
	opts, _, ok := parseOptions([]string{"--package-name", "pkg", "-v", "--junit-xml", "out.xml", "test.yaml"}, &stdout, &stderr)
	require.True(t, ok)
	require.Equal(t, "pkg", opts.PackageName)
	require.True(t, opts.Verbose)
	require.Equal(t, "out.xml", opts.JUnitXML)
	require.Equal(t, "test.yaml", opts.Args.TestFile)

	opts, _, ok = parseOptions([]string{"--show-arguments", "test.yaml"}, &stdout, &stderr)
	require.True(t, ok)
	require.True(t, opts.ShowArgsAlt)

	_, code, ok := parseOptions(nil, &stdout, &stderr)
	require.False(t, ok)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "test_file")

	stdout.Reset()
	_, code, ok = parseOptions([]string{"--help"}, &stdout, &stderr)
	require.False(t, ok)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "--junit-xml")
}

func TestRunShowArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basic_replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(showArgsDefinition), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-s", path}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Contains(t, stdout.String(), "local: fixtures/cmd_vel_only.mcap")
	require.Contains(t, stdout.String(), "  - slow\n")
	require.Contains(t, stdout.String(), "  - fast\n")
}

func TestRunStructuralFailures(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	require.Equal(t, 1, code)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0o644))
	stderr.Reset()
	code = run(context.Background(), []string{path}, &stdout, &stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "schema error")
}

// The recorder copies the replayed log into its output directory and idles until
// interrupted. The player exits as soon as the recording is in place.
const (
	recorderScript = `mkdir -p "$1"
cp "$2" "$1/recording.part"
mv "$1/recording.part" "$1/recording.mcap"
exec sleep 30
`
	playerScript = `while [ ! -f "$1/recording.mcap" ]; do sleep 0.05; done
`
)

const replayDefinition = `
name: basic_replay
fixtures:
  inputs:
    - local: {path: fixtures/cmd_vel_only.mcap}
  input_topics: [/vehicle/cmd_vel]
  output_topics: [/user/cmd_vel]
run:
  processes:
    - name: sut
      cmd: [sleep, "30"]
analyze:
  suite: AnalyzeBasicReplay
  assertions:
    - {name: has_input, type: topic_present, topic: /vehicle/cmd_vel}
    - {name: output_dropped, type: topic_absent, topic: /user/cmd_vel}
    - {name: input_count, type: message_count, topic: /vehicle/cmd_vel, equals: %d}
`

func setupReplay(t *testing.T, wantInputMessages int) (testFile, resultsRoot string) {
	t.Helper()
	dir := t.TempDir()
	scripts := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(scripts, 0o755))
	recorder := filepath.Join(scripts, "record.sh")
	player := filepath.Join(scripts, "play.sh")
	require.NoError(t, os.WriteFile(recorder, []byte(recorderScript), 0o755))
	require.NoError(t, os.WriteFile(player, []byte(playerScript), 0o755))

	fixtures := filepath.Join(dir, "fixtures")
	require.NoError(t, os.MkdirAll(fixtures, 0o755))
	topics := []logstore.Topic{
		{Name: "/vehicle/cmd_vel", MessageEncoding: "cdr"},
		{Name: "/user/cmd_vel", MessageEncoding: "cdr"},
	}
	msgs := []logstore.Message{
		{Topic: "/vehicle/cmd_vel", LogTime: 1, Data: []byte{1}},
		{Topic: "/user/cmd_vel", LogTime: 2, Data: []byte{2}},
		{Topic: "/vehicle/cmd_vel", LogTime: 3, Data: []byte{3}},
	}
	require.NoError(t, logstore.WriteAll(logstore.NewMCAPStore(), filepath.Join(fixtures, "cmd_vel_only.mcap"), topics, msgs))

	testFile = filepath.Join(dir, "basic_replay.yaml")
	require.NoError(t, os.WriteFile(testFile, []byte(fmt.Sprintf(replayDefinition, wantInputMessages)), 0o644))

	resultsRoot = filepath.Join(dir, "results")
	t.Setenv("REPLAY_TEST_RESULTS_DIR", resultsRoot)
	t.Setenv("REPLAY_TEST_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("REPLAY_TEST_RECORDER_CMD", "sh "+recorder+" {{.OutputDir}} {{.Input}}")
	t.Setenv("REPLAY_TEST_PLAYER_CMD", "sh "+player+" {{.OutputDir}}")
	t.Setenv("REPLAY_TEST_RUN_TIMEOUT", "30s")
	t.Setenv("REPLAY_TEST_SIGTERM_TIMEOUT", "1s")
	t.Setenv("REPLAY_TEST_SIGKILL_TIMEOUT", "1s")
	t.Setenv("REPLAY_TEST_LEDGER_URL", "")
	t.Setenv("REPLAY_TEST_ARTIFACTS_BUCKET", "")
	return testFile, resultsRoot
}

func sessionResults(t *testing.T, resultsRoot string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(resultsRoot, "*", report.ResultsFileName))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(raw)
}

func TestRunEndToEnd(t *testing.T) {
	t.Run("passing_exits_zero", func(t *testing.T) {
		testFile, resultsRoot := setupReplay(t, 2)
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{"--package-name", "my_pkg", testFile}, &stdout, &stderr)
		require.Equal(t, 0, code, stderr.String())

		xml := sessionResults(t, resultsRoot)
		require.Contains(t, xml, `name="my_pkg.basic_replay"`)
		require.Contains(t, xml, `tests="3" failures="0" errors="0"`)
		require.NotContains(t, xml, "<failure")
	})

	t.Run("failing_exits_one_and_writes_junit", func(t *testing.T) {
		testFile, resultsRoot := setupReplay(t, 3)
		junit := filepath.Join(t.TempDir(), "reports", "junit.xml")
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), []string{"--junit-xml", junit, testFile}, &stdout, &stderr)
		require.Equal(t, 1, code, stderr.String())

		raw, err := os.ReadFile(junit)
		require.NoError(t, err)
		require.Contains(t, string(raw), "<failure")
		require.Contains(t, string(raw), "got 2 messages, want 3")
		require.Equal(t, string(raw), sessionResults(t, resultsRoot))
	})
}
