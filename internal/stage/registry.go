// Package stage holds the phase declarations of a replay test.
package stage

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/animus-labs/replay-testing/internal/domain"
)

// Registry collects declarations tagged by phase. Lookups fail when a phase has no
// declaration or more than one.
type Registry struct {
	mu    sync.Mutex
	decls []Declaration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates decl and records it.
func (r *Registry) Register(decl Declaration) error {
	if decl == nil {
		return &domain.SchemaError{Issues: []string{"declaration is nil"}}
	}
	if !decl.Phase().Valid() {
		return &domain.SchemaError{Subject: decl.Name(), Issues: []string{fmt.Sprintf("unknown phase %q", decl.Phase())}}
	}
	if err := decl.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decls = append(r.decls, decl)
	return nil
}

func (r *Registry) lookup(phase domain.Phase) (Declaration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []Declaration
	for _, d := range r.decls {
		if d.Phase() == phase {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", domain.ErrPhaseNotFound, phase)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name())
		}
		return nil, fmt.Errorf("%w: %s declared by %s", domain.ErrAmbiguousPhase, phase, strings.Join(names, ", "))
	}
}

func resolve[T Declaration](r *Registry, phase domain.Phase) (T, error) {
	var zero T
	d, err := r.lookup(phase)
	if err != nil {
		return zero, err
	}
	typed, ok := d.(T)
	if !ok {
		return zero, &domain.SchemaError{Subject: d.Name(), Issues: []string{fmt.Sprintf("%s declaration has unsupported type %T", phase, d)}}
	}
	return typed, nil
}

func (r *Registry) Fixtures() (*FixturesDeclaration, error) {
	return resolve[*FixturesDeclaration](r, domain.PhaseFixtures)
}

func (r *Registry) Run() (*RunDeclaration, error) {
	return resolve[*RunDeclaration](r, domain.PhaseRun)
}

func (r *Registry) Analyze() (*AnalyzeDeclaration, error) {
	return resolve[*AnalyzeDeclaration](r, domain.PhaseAnalyze)
}

// Plan is the resolved declaration of every phase.
type Plan struct {
	Fixtures *FixturesDeclaration
	Run      *RunDeclaration
	Analyze  *AnalyzeDeclaration
}

// Resolve looks up all three phases and reports every problem at once.
func (r *Registry) Resolve() (Plan, error) {
	var (
		plan Plan
		errs []error
		err  error
	)
	if plan.Fixtures, err = r.Fixtures(); err != nil {
		errs = append(errs, err)
	}
	if plan.Run, err = r.Run(); err != nil {
		errs = append(errs, err)
	}
	if plan.Analyze, err = r.Analyze(); err != nil {
		errs = append(errs, err)
	}
	return plan, errors.Join(errs...)
}
