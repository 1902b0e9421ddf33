// Package runner drives a replay test through its fixtures, run and analyze phases.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/animus-labs/replay-testing/internal/analyze"
	"github.com/animus-labs/replay-testing/internal/config"
	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/filter"
	"github.com/animus-labs/replay-testing/internal/fixture"
	"github.com/animus-labs/replay-testing/internal/launch"
	"github.com/animus-labs/replay-testing/internal/logstore"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
	"github.com/animus-labs/replay-testing/internal/stage"
)

const filteredFixtureName = "filtered_fixture.mcap"

// Observer is told about every run state transition.
type Observer interface {
	RunStateChanged(fixture string, params domain.RunParams, from, to domain.RunState)
}

type Runner struct {
	cfg        config.Config
	resultsDir string
	store      logstore.Store
	launcher   launch.Launcher
	logger     *slog.Logger
	observer   Observer
}

type Option func(*Runner)

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// New prepares a runner writing below resultsDir, which is created if needed.
func New(cfg config.Config, resultsDir string, store logstore.Store, launcher launch.Launcher, logger *slog.Logger, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resultsDir) == "" {
		return nil, errors.New("results directory is required")
	}
	if store == nil {
		return nil, errors.New("log store is required")
	}
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	r := &Runner{
		cfg:        cfg,
		resultsDir: resultsDir,
		store:      store,
		launcher:   launcher,
		logger:     logging.OrDiscard(logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Runner) ResultsDir() string { return r.resultsDir }

// Execute runs the three phases of plan and returns the aggregated report. The
// returned error joins every fixture and run failure; each of them is also
// present in the report as an error outcome.
func (r *Runner) Execute(ctx context.Context, name string, plan stage.Plan) (domain.Report, error) {
	started := time.Now().UTC()
	logging.Stage(r.logger, string(domain.PhaseFixtures), false)
	fixtures, failures, fixturesErr := r.Fixtures(ctx, plan.Fixtures)
	logging.Stage(r.logger, string(domain.PhaseFixtures), true)

	logging.Stage(r.logger, string(domain.PhaseRun), false)
	runErr := r.Run(ctx, plan.Run, fixtures)
	logging.Stage(r.logger, string(domain.PhaseRun), true)

	logging.Stage(r.logger, string(domain.PhaseAnalyze), false)
	report := r.Analyze(ctx, name, plan.Analyze, fixtures, failures)
	report.StartedAt = started
	logging.Stage(r.logger, string(domain.PhaseAnalyze), true)

	return report, errors.Join(fixturesErr, runErr)
}

// Fixtures prepares every declared input in order. A failing input is skipped and
// reported; the others still produce fixtures.
func (r *Runner) Fixtures(ctx context.Context, decl *stage.FixturesDeclaration) ([]*domain.ReplayFixture, []domain.FixtureFailure, error) {
	if decl == nil {
		return nil, nil, fmt.Errorf("%w: fixtures", domain.ErrPhaseNotFound)
	}
	if err := decl.Validate(); err != nil {
		return nil, nil, err
	}
	var (
		fixtures []*domain.ReplayFixture
		failures []domain.FixtureFailure
		errs     []error
	)
	for i, in := range decl.Inputs {
		name := in.Key()
		fx, err := r.prepareFixture(ctx, decl, in, filepath.Join(r.resultsDir, name))
		if err != nil {
			r.logger.Error("fixture preparation failed", "fixture", name, "source", in.Source(), "err", err)
			failures = append(failures, domain.FixtureFailure{Name: name, Source: in.Source(), Index: i, Err: err})
			errs = append(errs, fmt.Errorf("fixture %s: %w", name, err))
			continue
		}
		fx.Index = i
		r.logger.Info("fixture ready", "fixture", fx.Name, "input", fx.Input.Path, "filtered", fx.Filtered.Path)
		fixtures = append(fixtures, fx)
	}
	return fixtures, failures, errors.Join(errs...)
}

func (r *Runner) prepareFixture(ctx context.Context, decl *stage.FixturesDeclaration, in fixture.Provider, base string) (*domain.ReplayFixture, error) {
	r.logger.Info("resolving fixture", "fixture", in.Key(), "source", in.Source())
	input, err := in.Download(ctx, filepath.Join(base, "input"))
	if err != nil {
		return nil, err
	}
	if err := r.checkInputTopics(input, decl.InputTopics); err != nil {
		return nil, err
	}
	filtered := filepath.Join(base, filteredFixtureName)
	if err := filter.Filter(ctx, r.store, input.Path, filtered, decl.OutputTopics); err != nil {
		return nil, err
	}
	return &domain.ReplayFixture{
		Name:     in.Key(),
		BasePath: base,
		Input:    input,
		Filtered: domain.LogRef{Path: filtered},
	}, nil
}

func (r *Runner) checkInputTopics(input domain.LogRef, required []string) error {
	log, err := r.store.Open(input.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFixtureValidation, err)
	}
	defer log.Close()
	recorded, err := logstore.TopicNames(log)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFixtureValidation, err)
	}
	var missing []string
	for _, t := range required {
		if !slices.Contains(recorded, t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	expected := slices.Sorted(slices.Values(required))
	actual := slices.Sorted(slices.Values(recorded))
	r.logger.Error("input topics do not match",
		"path", input.Path,
		"expected", expected,
		"actual", actual,
		"missing", missing,
	)
	return fmt.Errorf("%w: %s lacks %s", domain.ErrTopicMismatch, input.Path, strings.Join(missing, ", "))
}

// Run replays every fixture once per parameter set, in declaration order. Failures
// are recorded on the run output and the remaining pairs still run. A fixture the
// phase refuses to run gets RunErr set.
func (r *Runner) Run(ctx context.Context, decl *stage.RunDeclaration, fixtures []*domain.ReplayFixture) error {
	var phaseErr error
	switch {
	case decl == nil:
		phaseErr = fmt.Errorf("%w: run", domain.ErrPhaseNotFound)
	case len(decl.Parameters()) == 0:
		phaseErr = domain.ErrNoParameters
	}
	if phaseErr != nil {
		for _, fx := range fixtures {
			fx.RunErr = phaseErr
		}
		r.logger.Error("run phase skipped", "err", phaseErr)
		return phaseErr
	}
	params := decl.Parameters()
	var errs []error
	for _, fx := range fixtures {
		if len(fx.Runs) > 0 {
			fx.RunErr = domain.ErrDuplicateRun
			r.logger.Error("fixture already has runs", "fixture", fx.Name, "runs", len(fx.Runs))
			errs = append(errs, fmt.Errorf("fixture %s: %w", fx.Name, domain.ErrDuplicateRun))
			continue
		}
		for _, p := range params {
			out := r.runPair(ctx, decl, fx, p)
			fx.Runs = append(fx.Runs, out)
			if out.Err != nil {
				errs = append(errs, fmt.Errorf("fixture %s run %s: %w", fx.Name, p.Name, out.Err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) runPair(ctx context.Context, decl *stage.RunDeclaration, fx *domain.ReplayFixture, params domain.RunParams) domain.RunOutput {
	out := domain.RunOutput{Params: params, State: domain.RunStatePending}
	fail := func(err error) domain.RunOutput {
		r.transition(fx, &out, domain.RunStateFailed)
		out.Err = err
		r.logger.Error("run failed", "fixture", fx.Name, "run", params.Name, "err", err)
		return out
	}

	transient := filepath.Join(fx.RunsDir(), params.Name)
	target := filepath.Join(fx.RunsDir(), params.Name+".mcap")
	if err := os.RemoveAll(transient); err != nil {
		return fail(fmt.Errorf("clear %s: %w", transient, err))
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(fmt.Errorf("clear %s: %w", target, err))
	}
	if err := os.MkdirAll(fx.RunsDir(), 0o755); err != nil {
		return fail(fmt.Errorf("create %s: %w", fx.RunsDir(), err))
	}
	desc, err := r.buildGraph(fx, decl, params, transient)
	if err != nil {
		return fail(err)
	}

	r.transition(fx, &out, domain.RunStateRecordingAndReplaying)
	runCtx := ctx
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}
	if err := r.launcher.Launch(runCtx, desc); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %v", domain.ErrRunTimeout, r.cfg.RunTimeout, err)
		}
		return fail(err)
	}

	r.transition(fx, &out, domain.RunStateExtracting)
	path, err := r.extract(transient, target)
	if err != nil {
		return fail(err)
	}
	out.Output = domain.LogRef{Path: path}
	r.transition(fx, &out, domain.RunStateComplete)
	r.logRecorded(fx, params, path)
	return out
}

func (r *Runner) logRecorded(fx *domain.ReplayFixture, params domain.RunParams, path string) {
	log, err := r.store.Open(path)
	if err != nil {
		r.logger.Warn("open recorded log", "fixture", fx.Name, "run", params.Name, "path", path, "err", err)
		return
	}
	defer log.Close()
	counts, err := logstore.CountByTopic(log)
	if err != nil {
		r.logger.Warn("read recorded log", "fixture", fx.Name, "run", params.Name, "path", path, "err", err)
		return
	}
	r.logger.Info("run recorded", "fixture", fx.Name, "run", params.Name, "path", path, "messages_by_topic", counts)
}

// extract moves the single recorded log out of the transient directory to target
// and removes the directory.
func (r *Runner) extract(transient, target string) (string, error) {
	var found []string
	err := filepath.WalkDir(transient, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".mcap") {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: scan %s: %v", domain.ErrRunExtraction, transient, err)
	}
	if len(found) != 1 {
		return "", fmt.Errorf("%w: expected exactly one log in %s, found %d", domain.ErrRunExtraction, transient, len(found))
	}
	if err := os.Rename(found[0], target); err != nil {
		return "", fmt.Errorf("%w: move %s: %v", domain.ErrRunExtraction, found[0], err)
	}
	if !r.cfg.KeepTransientDir {
		if err := os.RemoveAll(transient); err != nil {
			r.logger.Warn("remove transient run directory", "path", transient, "err", err)
		}
	}
	return target, nil
}

func (r *Runner) transition(fx *domain.ReplayFixture, out *domain.RunOutput, next domain.RunState) {
	prev := out.State
	if !domain.CanTransitionRunState(prev, next) {
		r.logger.Error("invalid run state transition", "fixture", fx.Name, "run", out.Params.Name, "from", prev, "to", next)
		return
	}
	out.State = next
	r.logger.Debug("run state changed", "fixture", fx.Name, "run", out.Params.Name, "from", prev, "to", next)
	if r.observer != nil {
		r.observer.RunStateChanged(fx.Name, out.Params, prev, next)
	}
}

// Analyze evaluates a fresh suite against every run output.
func (r *Runner) Analyze(ctx context.Context, name string, decl *stage.AnalyzeDeclaration, fixtures []*domain.ReplayFixture, failures []domain.FixtureFailure) domain.Report {
	var newSuite analyze.SuiteFactory
	if decl != nil {
		newSuite = decl.SuiteFactory()
	}
	report := analyze.NewAggregator(r.store, r.logger).Aggregate(ctx, name, fixtures, failures, newSuite)
	totals := report.Totals()
	r.logger.Info("analysis complete",
		"tests", totals.Tests,
		"passed", totals.Passed,
		"failures", totals.Failures,
		"errors", totals.Errors,
	)
	return report
}
