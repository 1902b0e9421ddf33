package domain

import (
	"errors"
	"strings"
)

var (
	ErrSchema            = errors.New("schema error")
	ErrPhaseNotFound     = errors.New("phase not found")
	ErrAmbiguousPhase    = errors.New("phase declared more than once")
	ErrFixtureDownload   = errors.New("fixture download failed")
	ErrFixtureValidation = errors.New("fixture validation failed")
	ErrFilter            = errors.New("topic filter failed")
	ErrRunExtraction     = errors.New("run output extraction failed")
	ErrDuplicateRun      = errors.New("fixture already has runs")
	ErrNoParameters      = errors.New("no run parameters")
	ErrRunTimeout        = errors.New("run timed out")
)

// ErrTopicMismatch is returned when a recording lacks declared input topics. It also
// matches ErrFixtureValidation.
var ErrTopicMismatch = &topicMismatch{}

type topicMismatch struct{}

func (*topicMismatch) Error() string { return "input topics missing from recording" }

func (*topicMismatch) Is(target error) bool { return target == ErrFixtureValidation }

// SchemaError aggregates declaration problems found before execution.
type SchemaError struct {
	Subject string
	Issues  []string
}

func (e *SchemaError) Error() string {
	prefix := "schema error"
	if strings.TrimSpace(e.Subject) != "" {
		prefix = "schema error in " + e.Subject
	}
	if len(e.Issues) == 0 {
		return prefix
	}
	return prefix + ": " + strings.Join(e.Issues, "; ")
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

func (e *SchemaError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *SchemaError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
