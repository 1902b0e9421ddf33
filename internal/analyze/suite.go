// Package analyze runs assertion suites against recorded run outputs.
package analyze

import (
	"context"
	"fmt"

	"github.com/animus-labs/replay-testing/internal/logstore"
)

// Check inspects one output log. Returning a *Failure marks the assertion failed;
// any other error marks it errored.
type Check func(ctx context.Context, log logstore.Reader) error

type Assertion struct {
	Name  string
	Check Check
}

type Suite interface {
	Name() string
	Assertions() []Assertion
}

// SetUpper is implemented by suites that prepare state before their assertions run.
type SetUpper interface {
	SetUp(ctx context.Context, log logstore.Reader) error
}

// Failure is an assertion that did not hold.
type Failure struct {
	Message string
}

func (f *Failure) Error() string { return f.Message }

func Failf(format string, args ...any) error {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// BasicSuite is a named list of assertions with an optional set-up step.
type BasicSuite struct {
	SuiteName string
	Checks    []Assertion
	Setup     func(ctx context.Context, log logstore.Reader) error
}

func NewSuite(name string, assertions ...Assertion) *BasicSuite {
	return &BasicSuite{SuiteName: name, Checks: assertions}
}

func (s *BasicSuite) Name() string { return s.SuiteName }

func (s *BasicSuite) Assertions() []Assertion { return s.Checks }

func (s *BasicSuite) SetUp(ctx context.Context, log logstore.Reader) error {
	if s.Setup == nil {
		return nil
	}
	return s.Setup(ctx, log)
}
