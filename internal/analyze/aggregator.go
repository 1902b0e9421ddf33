package analyze

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/logstore"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
)

// HarnessSuite names the synthetic outcomes the harness records for failures
// outside user assertions.
const HarnessSuite = "replay_harness"

// SuiteFactory returns a fresh suite for every run output.
type SuiteFactory func() Suite

type Aggregator struct {
	store  logstore.Store
	logger *slog.Logger
}

func NewAggregator(store logstore.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logging.OrDiscard(logger)}
}

// Aggregate evaluates every run of every fixture and adds a synthetic error outcome
// for each fixture that could not be prepared or run. Fixture reports follow the
// declaration order given by the fixture and failure indexes.
func (a *Aggregator) Aggregate(ctx context.Context, name string, fixtures []*domain.ReplayFixture, failures []domain.FixtureFailure, newSuite SuiteFactory) domain.Report {
	report := domain.Report{Name: name}
	pending := slices.SortedStableFunc(slices.Values(failures), func(x, y domain.FixtureFailure) int {
		return cmp.Compare(x.Index, y.Index)
	})
	flush := func(before int) {
		for len(pending) > 0 && pending[0].Index < before {
			report.Fixtures = append(report.Fixtures, failedFixture(pending[0]))
			pending = pending[1:]
		}
	}
	for _, f := range fixtures {
		flush(f.Index)
		report.Fixtures = append(report.Fixtures, a.fixtureReport(ctx, f, newSuite))
	}
	flush(math.MaxInt)
	return report
}

func (a *Aggregator) fixtureReport(ctx context.Context, f *domain.ReplayFixture, newSuite SuiteFactory) domain.FixtureReport {
	fr := domain.FixtureReport{Fixture: f.Name, InputPath: f.Input.Path}
	for _, run := range f.Runs {
		rr := a.Evaluate(ctx, f, run, newSuite)
		a.logger.Info("analyzed run",
			"fixture", f.Name,
			"run", run.Params.Name,
			"tests", rr.Tests(),
			"failures", rr.Failures(),
			"errors", rr.Errors(),
		)
		fr.Runs = append(fr.Runs, rr)
	}
	if f.RunErr != nil {
		outcome := harnessError("run_phase", f.RunErr)
		outcome.FilteredPath = f.Filtered.Path
		fr.Runs = append(fr.Runs, domain.RunReport{
			Fixture:      f.Name,
			Run:          "run",
			FilteredPath: f.Filtered.Path,
			Outcomes:     []domain.TestOutcome{outcome},
		})
	}
	return fr
}

func failedFixture(ff domain.FixtureFailure) domain.FixtureReport {
	return domain.FixtureReport{
		Fixture:   ff.Name,
		InputPath: ff.Source,
		Runs: []domain.RunReport{{
			Fixture:  ff.Name,
			Run:      "fixture",
			Outcomes: []domain.TestOutcome{harnessError("prepare_fixture", ff.Err)},
		}},
	}
}

// Evaluate runs a fresh suite against one run output.
func (a *Aggregator) Evaluate(ctx context.Context, f *domain.ReplayFixture, run domain.RunOutput, newSuite SuiteFactory) domain.RunReport {
	rr := a.evaluate(ctx, f, run, newSuite)
	for i := range rr.Outcomes {
		rr.Outcomes[i].RunOutputPath = rr.OutputPath
		rr.Outcomes[i].FilteredPath = rr.FilteredPath
	}
	return rr
}

func (a *Aggregator) evaluate(ctx context.Context, f *domain.ReplayFixture, run domain.RunOutput, newSuite SuiteFactory) domain.RunReport {
	rr := domain.RunReport{
		Fixture:      f.Name,
		Run:          run.Params.Name,
		FilteredPath: f.Filtered.Path,
		OutputPath:   run.Output.Path,
	}
	if run.State != domain.RunStateComplete {
		err := run.Err
		if err == nil {
			err = fmt.Errorf("run ended in state %s", run.State)
		}
		rr.Outcomes = []domain.TestOutcome{harnessError("run", err)}
		return rr
	}

	log, err := a.store.Open(run.Output.Path)
	if err != nil {
		rr.Outcomes = []domain.TestOutcome{harnessError("open_output", err)}
		return rr
	}
	defer log.Close()

	suite, err := instantiate(newSuite)
	if err != nil {
		rr.Outcomes = []domain.TestOutcome{harnessError("instantiate_suite", err)}
		return rr
	}

	var setupErr error
	if s, ok := suite.(SetUpper); ok {
		setupErr = protect(func() error { return s.SetUp(ctx, log) })
	}

	for _, assertion := range suite.Assertions() {
		outcome := domain.TestOutcome{Suite: suite.Name(), Name: assertion.Name}
		if setupErr != nil {
			outcome.Status = domain.OutcomeError
			outcome.Message = "set up failed: " + setupErr.Error()
			rr.Outcomes = append(rr.Outcomes, outcome)
			continue
		}
		start := time.Now()
		err := protect(func() error {
			if assertion.Check == nil {
				return errors.New("assertion has no check")
			}
			return assertion.Check(ctx, log)
		})
		outcome.Duration = time.Since(start)
		outcome.Status, outcome.Message = classify(err)
		if outcome.Status != domain.OutcomePass {
			a.logger.Warn("assertion did not pass",
				"fixture", f.Name,
				"run", run.Params.Name,
				"assertion", assertion.Name,
				"status", outcome.Status,
				"message", outcome.Message,
			)
		}
		rr.Outcomes = append(rr.Outcomes, outcome)
	}
	return rr
}

func classify(err error) (domain.OutcomeStatus, string) {
	if err == nil {
		return domain.OutcomePass, ""
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return domain.OutcomeFail, failure.Message
	}
	return domain.OutcomeError, err.Error()
}

func harnessError(name string, err error) domain.TestOutcome {
	return domain.TestOutcome{
		Suite:   HarnessSuite,
		Name:    name,
		Status:  domain.OutcomeError,
		Message: err.Error(),
	}
}

func instantiate(newSuite SuiteFactory) (suite Suite, err error) {
	if newSuite == nil {
		return nil, errors.New("suite factory is nil")
	}
	err = protect(func() error {
		suite = newSuite()
		return nil
	})
	if err == nil && suite == nil {
		err = errors.New("suite factory returned nil")
	}
	return suite, err
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
