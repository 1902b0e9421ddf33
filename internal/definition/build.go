package definition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"text/template"

	"github.com/animus-labs/replay-testing/internal/analyze"
	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/fixture"
	"github.com/animus-labs/replay-testing/internal/launch"
	"github.com/animus-labs/replay-testing/internal/stage"
)

const (
	fixturesDeclName = "fixtures"
	runDeclName      = "run"
	defaultSuiteName = "Analyze"
)

// Options supplies what the declarations need at execution time.
type Options struct {
	Cache      fixture.Cache
	NewStore   fixture.StoreFactory
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Plan registers the three phases of d and resolves them.
func (d *Definition) Plan(opts Options) (stage.Plan, error) {
	reg := stage.NewRegistry()
	if err := d.Register(reg, opts); err != nil {
		return stage.Plan{}, err
	}
	return reg.Resolve()
}

// Register adds the fixtures, run and analyze declarations of d to reg.
func (d *Definition) Register(reg *stage.Registry, opts Options) error {
	run, err := d.runDeclaration()
	if err != nil {
		return err
	}
	suite, err := d.analyzeDeclaration()
	if err != nil {
		return err
	}
	fixtures := stage.Fixtures(fixturesDeclName, d.Providers(opts), d.Fixtures.InputTopics, d.Fixtures.OutputTopics)
	for _, decl := range []stage.Declaration{fixtures, run, suite} {
		if err := reg.Register(decl); err != nil {
			return err
		}
	}
	return nil
}

// Providers returns one fixture provider per declared input, in order.
func (d *Definition) Providers(opts Options) []fixture.Provider {
	providers := make([]fixture.Provider, 0, len(d.Fixtures.Inputs))
	for _, in := range d.Fixtures.Inputs {
		switch {
		case in.Local != nil:
			path := in.Local.Path
			if !filepath.IsAbs(path) {
				path = filepath.Join(d.Dir(), path)
			}
			providers = append(providers, fixture.LocalProvider{Path: path})
		case in.S3 != nil:
			providers = append(providers, fixture.S3Provider{
				ObjectKey: in.S3.Key,
				Bucket:    in.S3.Bucket,
				UseCache:  in.S3.Cache,
				Cache:     opts.Cache,
				NewStore:  opts.NewStore,
				Logger:    opts.Logger,
			})
		case in.Nexus != nil:
			providers = append(providers, fixture.NexusProvider{
				Path:     in.Nexus.Path,
				UseCache: in.Nexus.Cache,
				Cache:    opts.Cache,
				Client:   opts.HTTPClient,
				Logger:   opts.Logger,
			})
		default:
			providers = append(providers, nil)
		}
	}
	return providers
}

// templateData is visible to process argument and environment templates.
type templateData struct {
	Name   string
	Params map[string]any
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		out, err := json.Marshal(v)
		return string(out), err
	},
}

type processTemplate struct {
	spec ProcessSpec
	cmd  []*template.Template
	env  map[string]*template.Template
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
}

func execute(tmpl *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (d *Definition) runDeclaration() (*stage.RunDeclaration, error) {
	verr := &domain.SchemaError{Subject: "run"}
	procs := make([]processTemplate, 0, len(d.Run.Processes))
	for i, p := range d.Run.Processes {
		pt := processTemplate{spec: p, env: map[string]*template.Template{}}
		for j, arg := range p.Cmd {
			tmpl, err := parseTemplate(fmt.Sprintf("%s.cmd[%d]", p.Name, j), arg)
			if err != nil {
				verr.Add(fmt.Sprintf("processes[%d].cmd[%d]: %v", i, j, err))
				continue
			}
			pt.cmd = append(pt.cmd, tmpl)
		}
		for k, v := range p.Env {
			tmpl, err := parseTemplate(fmt.Sprintf("%s.env.%s", p.Name, k), v)
			if err != nil {
				verr.Add(fmt.Sprintf("processes[%d].env.%s: %v", i, k, err))
				continue
			}
			pt.env[k] = tmpl
		}
		procs = append(procs, pt)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	generate := func(params domain.RunParams) (launch.Description, error) {
		data := templateData{Name: params.Name, Params: params.Params}
		if data.Params == nil {
			data.Params = map[string]any{}
		}
		desc := launch.Description{Name: params.Name}
		for _, pt := range procs {
			proc := launch.Process{
				Name:           pt.spec.Name,
				Role:           launch.RoleUser,
				Dir:            pt.spec.Dir,
				ShutdownOnExit: pt.spec.ShutdownOnExit,
			}
			for _, tmpl := range pt.cmd {
				arg, err := execute(tmpl, data)
				if err != nil {
					return launch.Description{}, fmt.Errorf("render %s: %w", tmpl.Name(), err)
				}
				proc.Cmd = append(proc.Cmd, arg)
			}
			if len(pt.env) > 0 {
				proc.Env = make(map[string]string, len(pt.env))
			}
			for k, tmpl := range pt.env {
				val, err := execute(tmpl, data)
				if err != nil {
					return launch.Description{}, fmt.Errorf("render %s: %w", tmpl.Name(), err)
				}
				proc.Env[k] = val
			}
			desc.Processes = append(desc.Processes, proc)
		}
		return desc, nil
	}

	var decl *stage.RunDeclaration
	if len(d.Run.Parameters) == 0 {
		decl = stage.DefaultRun(runDeclName, stage.DefaultLaunchGeneratorFunc(func() (launch.Description, error) {
			return generate(domain.DefaultRunParams())
		}))
	} else {
		params := make([]domain.RunParams, 0, len(d.Run.Parameters))
		for _, p := range d.Run.Parameters {
			params = append(params, domain.RunParams{
				Name:                 p.Name,
				Params:               p.Params,
				IgnorePlaybackFinish: p.IgnorePlaybackFinish,
			})
		}
		decl = stage.ParameterizedRun(runDeclName, params, stage.LaunchGeneratorFunc(generate))
	}
	if qos := d.Run.QoSOverrides; qos != "" {
		if !filepath.IsAbs(qos) {
			qos = filepath.Join(d.Dir(), qos)
		}
		decl.QoSOverridesPath = qos
	}
	return decl, nil
}

func (d *Definition) analyzeDeclaration() (*stage.AnalyzeDeclaration, error) {
	name := d.Analyze.Suite
	if name == "" {
		name = defaultSuiteName
	}
	verr := &domain.SchemaError{Subject: "analyze " + name}
	assertions := make([]analyze.Assertion, 0, len(d.Analyze.Assertions))
	seen := map[string]struct{}{}
	for i, a := range d.Analyze.Assertions {
		if _, ok := seen[a.Name]; ok {
			verr.Add(fmt.Sprintf("assertions[%d].name %q is duplicated", i, a.Name))
		}
		seen[a.Name] = struct{}{}
		check, err := buildCheck(a)
		if err != nil {
			verr.Add(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Name, err))
			continue
		}
		assertions = append(assertions, analyze.Assertion{Name: a.Name, Check: check})
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return stage.Analyze(name, func() analyze.Suite {
		return analyze.NewSuite(name, assertions...)
	}), nil
}

func buildCheck(a AssertionSpec) (analyze.Check, error) {
	switch a.Type {
	case "message_count":
		bounds := analyze.CountBounds{Equals: a.Equals, Min: a.Min, Max: a.Max}
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
		return analyze.MessageCount(a.Topic, bounds), nil
	case "topic_present":
		return analyze.TopicPresent(a.Topic), nil
	case "topic_absent":
		return analyze.TopicAbsent(a.Topic), nil
	case "topic_type":
		return analyze.TopicType(a.Topic, a.MessageType), nil
	case "expr":
		program, err := analyze.CompileExpr(a.Expression)
		if err != nil {
			return nil, err
		}
		return analyze.Expr(a.Expression, program), nil
	default:
		return nil, fmt.Errorf("unknown assertion type %q", a.Type)
	}
}
