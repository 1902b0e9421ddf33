package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultRunName names the single parameter set of a parameterless run declaration.
const DefaultRunName = "default"

// LogRef points at a log file on local disk.
type LogRef struct {
	Path string `json:"path"`
}

func (r LogRef) Stem() string {
	return Stem(r.Path)
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(strings.TrimSpace(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// RunParams is one named parameter set of a run declaration.
type RunParams struct {
	Name                 string         `json:"name"`
	Params               map[string]any `json:"params,omitempty"`
	IgnorePlaybackFinish bool           `json:"ignore_playback_finish,omitempty"`
}

func DefaultRunParams() RunParams {
	return RunParams{Name: DefaultRunName}
}

// ValidateRunParams checks that the list is non-empty and names are unique and usable
// as directory names.
func ValidateRunParams(params []RunParams) error {
	verr := &SchemaError{Subject: "run parameters"}
	if len(params) == 0 {
		verr.Add("at least one parameter set is required")
	}
	seen := map[string]struct{}{}
	for i, p := range params {
		name := strings.TrimSpace(p.Name)
		switch {
		case name == "":
			verr.Add(fmt.Sprintf("parameters[%d].name is required", i))
			continue
		case name != p.Name:
			verr.Add(fmt.Sprintf("parameters[%d].name %q has surrounding whitespace", i, p.Name))
		case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
			verr.Add(fmt.Sprintf("parameters[%d].name %q is not a valid directory name", i, p.Name))
		}
		if _, ok := seen[name]; ok {
			verr.Add(fmt.Sprintf("parameters[%d].name %q is duplicated", i, p.Name))
		}
		seen[name] = struct{}{}
	}
	return verr.OrNil()
}

// RunOutput is the result of replaying one fixture under one parameter set.
type RunOutput struct {
	Params RunParams
	Output LogRef
	State  RunState
	Err    error
}

// ReplayFixture is a prepared input log and the runs produced from it. Index is
// the position of its input in the declaration. RunErr is set when the run phase
// refused to run the fixture at all.
type ReplayFixture struct {
	Name     string
	BasePath string
	Index    int
	Input    LogRef
	Filtered LogRef
	Runs     []RunOutput
	RunErr   error
}

// RunsDir is the parent of every transient and extracted run output.
func (f *ReplayFixture) RunsDir() string {
	return filepath.Join(f.BasePath, "runs")
}

// ResetRuns forgets previous runs so the run phase may execute again.
func (f *ReplayFixture) ResetRuns() {
	f.Runs = nil
	f.RunErr = nil
}

// FixtureFailure records a declared input that could not be prepared.
type FixtureFailure struct {
	Name   string
	Source string
	Index  int
	Err    error
}
