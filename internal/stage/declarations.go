package stage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/replay-testing/internal/analyze"
	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/fixture"
	"github.com/animus-labs/replay-testing/internal/launch"
)

// Declaration is one phase of a replay test.
type Declaration interface {
	Phase() domain.Phase
	Name() string
	Validate() error
}

// FixturesDeclaration lists the input recordings and the topic contract of the
// system under test: InputTopics must be present in every recording, OutputTopics
// are removed before replay.
type FixturesDeclaration struct {
	name         string
	Inputs       []fixture.Provider
	InputTopics  []string
	OutputTopics []string
}

func Fixtures(name string, inputs []fixture.Provider, inputTopics, outputTopics []string) *FixturesDeclaration {
	return &FixturesDeclaration{name: name, Inputs: inputs, InputTopics: inputTopics, OutputTopics: outputTopics}
}

func (d *FixturesDeclaration) Phase() domain.Phase { return domain.PhaseFixtures }

func (d *FixturesDeclaration) Name() string { return d.name }

func (d *FixturesDeclaration) Validate() error {
	verr := &domain.SchemaError{Subject: "fixtures " + d.name}
	if len(d.Inputs) == 0 {
		verr.Add("at least one input recording is required")
	}
	keys := map[string]int{}
	for i, in := range d.Inputs {
		if in == nil {
			verr.Add(fmt.Sprintf("inputs[%d] is nil", i))
			continue
		}
		key := strings.TrimSpace(in.Key())
		if key == "" {
			verr.Add(fmt.Sprintf("inputs[%d] has no file name", i))
			continue
		}
		if prev, ok := keys[key]; ok {
			verr.Add(fmt.Sprintf("inputs[%d] and inputs[%d] both resolve to fixture name %q", prev, i, key))
			continue
		}
		keys[key] = i
	}
	validateTopics(verr, "input_topics", d.InputTopics, false)
	validateTopics(verr, "output_topics", d.OutputTopics, true)
	return verr.OrNil()
}

func validateTopics(verr *domain.SchemaError, attr string, topics []string, allowEmpty bool) {
	if topics == nil {
		verr.Add(attr + " must be declared")
		return
	}
	if len(topics) == 0 && !allowEmpty {
		verr.Add(attr + " must not be empty")
		return
	}
	seen := map[string]struct{}{}
	for i, t := range topics {
		if strings.TrimSpace(t) == "" {
			verr.Add(fmt.Sprintf("%s[%d] is blank", attr, i))
			continue
		}
		if _, ok := seen[t]; ok {
			verr.Add(fmt.Sprintf("%s[%d] %q is duplicated", attr, i, t))
		}
		seen[t] = struct{}{}
	}
}

// LaunchGenerator builds the user graph for one parameter set.
type LaunchGenerator interface {
	GenerateLaunch(params domain.RunParams) (launch.Description, error)
}

type LaunchGeneratorFunc func(params domain.RunParams) (launch.Description, error)

func (f LaunchGeneratorFunc) GenerateLaunch(params domain.RunParams) (launch.Description, error) {
	return f(params)
}

// DefaultLaunchGenerator builds the user graph of a run without parameters.
type DefaultLaunchGenerator interface {
	GenerateLaunch() (launch.Description, error)
}

type DefaultLaunchGeneratorFunc func() (launch.Description, error)

func (f DefaultLaunchGeneratorFunc) GenerateLaunch() (launch.Description, error) {
	return f()
}

type RunDeclaration struct {
	name     string
	params   []domain.RunParams
	generate func(domain.RunParams) (launch.Description, error)
	// QoSOverridesPath is forwarded to the player when set.
	QoSOverridesPath string
}

// ParameterizedRun replays every fixture once per parameter set, in order.
func ParameterizedRun(name string, params []domain.RunParams, gen LaunchGenerator) *RunDeclaration {
	d := &RunDeclaration{name: name, params: append([]domain.RunParams(nil), params...)}
	if gen != nil {
		d.generate = gen.GenerateLaunch
	}
	return d
}

// DefaultRun replays every fixture once with the single "default" parameter set.
func DefaultRun(name string, gen DefaultLaunchGenerator) *RunDeclaration {
	d := &RunDeclaration{name: name, params: []domain.RunParams{domain.DefaultRunParams()}}
	if gen != nil {
		d.generate = func(domain.RunParams) (launch.Description, error) { return gen.GenerateLaunch() }
	}
	return d
}

func (d *RunDeclaration) Phase() domain.Phase { return domain.PhaseRun }

func (d *RunDeclaration) Name() string { return d.name }

func (d *RunDeclaration) Parameters() []domain.RunParams {
	return append([]domain.RunParams(nil), d.params...)
}

func (d *RunDeclaration) Generate(params domain.RunParams) (launch.Description, error) {
	if d.generate == nil {
		return launch.Description{}, errors.New("run declaration has no launch generator")
	}
	return d.generate(params)
}

func (d *RunDeclaration) Validate() error {
	verr := &domain.SchemaError{Subject: "run " + d.name}
	if d.generate == nil {
		verr.Add("launch generator is required")
	}
	var perr *domain.SchemaError
	if err := domain.ValidateRunParams(d.params); errors.As(err, &perr) {
		for _, issue := range perr.Issues {
			verr.Add(issue)
		}
	}
	return verr.OrNil()
}

type AnalyzeDeclaration struct {
	name     string
	newSuite analyze.SuiteFactory
}

// Analyze declares the assertion suite. newSuite is called once per run output.
func Analyze(name string, newSuite analyze.SuiteFactory) *AnalyzeDeclaration {
	return &AnalyzeDeclaration{name: name, newSuite: newSuite}
}

func (d *AnalyzeDeclaration) Phase() domain.Phase { return domain.PhaseAnalyze }

func (d *AnalyzeDeclaration) Name() string { return d.name }

func (d *AnalyzeDeclaration) NewSuite() analyze.Suite { return d.newSuite() }

func (d *AnalyzeDeclaration) SuiteFactory() analyze.SuiteFactory { return d.newSuite }

func (d *AnalyzeDeclaration) Validate() error {
	verr := &domain.SchemaError{Subject: "analyze " + d.name}
	if d.newSuite == nil {
		verr.Add("suite factory is required")
	}
	return verr.OrNil()
}
