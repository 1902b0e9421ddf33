package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanTransitionRunState(t *testing.T) {
	cases := []struct {
		from, to RunState
		want     bool
	}{
		{RunStatePending, RunStateRecordingAndReplaying, true},
		{RunStateRecordingAndReplaying, RunStateExtracting, true},
		{RunStateExtracting, RunStateComplete, true},
		{RunStatePending, RunStateExtracting, false},
		{RunStatePending, RunStateFailed, true},
		{RunStateExtracting, RunStateFailed, true},
		{RunStateComplete, RunStateFailed, false},
		{RunStateFailed, RunStatePending, false},
		{RunStateExtracting, RunStatePending, false},
		{"", RunStatePending, false},
	}
	for _, tc := range cases {
		if got := CanTransitionRunState(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransitionRunState(%q,%q)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidateRunParams(t *testing.T) {
	if err := ValidateRunParams(nil); !errors.Is(err, ErrSchema) {
		t.Fatalf("ValidateRunParams(nil) err=%v, want ErrSchema", err)
	}
	if err := ValidateRunParams([]RunParams{{Name: "a"}, {Name: "b"}}); err != nil {
		t.Fatalf("ValidateRunParams() err=%v", err)
	}
	err := ValidateRunParams([]RunParams{{Name: "a"}, {Name: "a"}, {Name: "x/y"}, {Name: ""}})
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("ValidateRunParams() err=%v, want *SchemaError", err)
	}
	if len(serr.Issues) != 3 {
		t.Fatalf("issues=%v, want 3", serr.Issues)
	}
}

func TestTopicMismatchMatchesValidation(t *testing.T) {
	err := fmt.Errorf("fixture a: %w", ErrTopicMismatch)
	if !errors.Is(err, ErrTopicMismatch) {
		t.Fatalf("errors.Is(ErrTopicMismatch)=false")
	}
	if !errors.Is(err, ErrFixtureValidation) {
		t.Fatalf("errors.Is(ErrFixtureValidation)=false")
	}
	if errors.Is(err, ErrFixtureDownload) {
		t.Fatalf("errors.Is(ErrFixtureDownload)=true")
	}
}

func TestReportAggregation(t *testing.T) {
	report := Report{Fixtures: []FixtureReport{
		{Fixture: "a", Runs: []RunReport{
			{Run: "p1", Outcomes: []TestOutcome{{Status: OutcomePass}, {Status: OutcomeFail}}},
			{Run: "p2", Outcomes: []TestOutcome{{Status: OutcomePass}}},
		}},
		{Fixture: "b"},
	}}
	totals := report.Totals()
	if totals.Tests != 3 || totals.Passed != 2 || totals.Failures != 1 || totals.Errors != 0 {
		t.Fatalf("Totals()=%+v", totals)
	}
	if report.Successful() {
		t.Fatalf("Successful()=true with a failure")
	}
	if len(report.Runs()) != 2 {
		t.Fatalf("Runs()=%d, want 2", len(report.Runs()))
	}

	empty := Report{Fixtures: []FixtureReport{{Fixture: "a"}}}
	if !empty.Successful() {
		t.Fatalf("fixture without runs must pass")
	}
}

func TestStem(t *testing.T) {
	if got := Stem("/a/b/cmd_vel_only.mcap"); got != "cmd_vel_only" {
		t.Fatalf("Stem()=%q", got)
	}
}
