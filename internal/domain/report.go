package domain

import "time"

// OutcomeStatus is the verdict of one assertion.
type OutcomeStatus string

const (
	OutcomePass  OutcomeStatus = "pass"
	OutcomeFail  OutcomeStatus = "fail"
	OutcomeError OutcomeStatus = "error"
)

// TestOutcome is the verdict of one assertion against one output log. The paths
// point back at the logs it was evaluated on.
type TestOutcome struct {
	Suite         string        `json:"suite"`
	Name          string        `json:"name"`
	Status        OutcomeStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	RunOutputPath string        `json:"run_fixture_path,omitempty"`
	FilteredPath  string        `json:"filtered_fixture_path,omitempty"`
}

// RunReport holds the outcomes of the assertions run against one output log.
type RunReport struct {
	Fixture      string        `json:"fixture"`
	Run          string        `json:"run"`
	FilteredPath string        `json:"filtered_fixture_path"`
	OutputPath   string        `json:"run_fixture_path"`
	Outcomes     []TestOutcome `json:"outcomes"`
}

func (r RunReport) Tests() int { return len(r.Outcomes) }

func (r RunReport) Passed() int { return r.count(OutcomePass) }

func (r RunReport) Failures() int { return r.count(OutcomeFail) }

func (r RunReport) Errors() int { return r.count(OutcomeError) }

func (r RunReport) Duration() time.Duration {
	var total time.Duration
	for _, o := range r.Outcomes {
		total += o.Duration
	}
	return total
}

func (r RunReport) Successful() bool {
	return r.Failures() == 0 && r.Errors() == 0
}

func (r RunReport) count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

type FixtureReport struct {
	Fixture   string      `json:"fixture"`
	InputPath string      `json:"input_path"`
	Runs      []RunReport `json:"runs"`
}

func (f FixtureReport) Successful() bool {
	for _, r := range f.Runs {
		if !r.Successful() {
			return false
		}
	}
	return true
}

// Report is the result tree of a whole session.
type Report struct {
	Name      string          `json:"name"`
	SessionID string          `json:"session_id,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Fixtures  []FixtureReport `json:"fixtures"`
}

// Runs flattens every run report in fixture then parameter order.
func (r Report) Runs() []RunReport {
	var out []RunReport
	for _, f := range r.Fixtures {
		out = append(out, f.Runs...)
	}
	return out
}

type Totals struct {
	Tests    int `json:"tests"`
	Passed   int `json:"passed"`
	Failures int `json:"failures"`
	Errors   int `json:"errors"`
}

func (r Report) Totals() Totals {
	var t Totals
	for _, run := range r.Runs() {
		t.Tests += run.Tests()
		t.Passed += run.Passed()
		t.Failures += run.Failures()
		t.Errors += run.Errors()
	}
	return t
}

// Successful is true iff no run has a failure or an error. A fixture without runs
// passes trivially.
func (r Report) Successful() bool {
	for _, f := range r.Fixtures {
		if !f.Successful() {
			return false
		}
	}
	return true
}
