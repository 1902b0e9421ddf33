// Package definition loads replay test definitions from YAML and turns them into
// phase declarations.
package definition

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/replay-testing/internal/domain"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "replay-test.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

type Definition struct {
	Name     string       `yaml:"name"`
	Fixtures FixturesSpec `yaml:"fixtures"`
	Run      RunSpec      `yaml:"run"`
	Analyze  AnalyzeSpec  `yaml:"analyze"`

	// Path is the file the definition was loaded from; relative local inputs
	// resolve against its directory.
	Path string `yaml:"-"`
}

type FixturesSpec struct {
	Inputs       []InputSpec `yaml:"inputs"`
	InputTopics  []string    `yaml:"input_topics"`
	OutputTopics []string    `yaml:"output_topics"`
}

// InputSpec holds exactly one input source.
type InputSpec struct {
	Local *LocalInput `yaml:"local,omitempty"`
	S3    *S3Input    `yaml:"s3,omitempty"`
	Nexus *NexusInput `yaml:"nexus,omitempty"`
}

type LocalInput struct {
	Path string `yaml:"path"`
}

type S3Input struct {
	Key    string `yaml:"key"`
	Bucket string `yaml:"bucket,omitempty"`
	Cache  bool   `yaml:"cache,omitempty"`
}

type NexusInput struct {
	Path  string `yaml:"path"`
	Cache bool   `yaml:"cache,omitempty"`
}

type RunSpec struct {
	QoSOverrides string        `yaml:"qos_overrides,omitempty"`
	Parameters   []ParamSpec   `yaml:"parameters,omitempty"`
	Processes    []ProcessSpec `yaml:"processes"`
}

type ParamSpec struct {
	Name                 string         `yaml:"name"`
	Params               map[string]any `yaml:"params,omitempty"`
	IgnorePlaybackFinish bool           `yaml:"ignore_playback_finish,omitempty"`
}

type ProcessSpec struct {
	Name           string            `yaml:"name"`
	Cmd            []string          `yaml:"cmd"`
	Env            map[string]string `yaml:"env,omitempty"`
	Dir            string            `yaml:"dir,omitempty"`
	ShutdownOnExit bool              `yaml:"shutdown_on_exit,omitempty"`
}

type AnalyzeSpec struct {
	Suite      string          `yaml:"suite,omitempty"`
	Assertions []AssertionSpec `yaml:"assertions"`
}

type AssertionSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Topic       string `yaml:"topic,omitempty"`
	Equals      *int   `yaml:"equals,omitempty"`
	Min         *int   `yaml:"min,omitempty"`
	Max         *int   `yaml:"max,omitempty"`
	MessageType string `yaml:"message_type,omitempty"`
	Expression  string `yaml:"expression,omitempty"`
}

// Dir is the directory relative paths in the definition resolve against.
func (d *Definition) Dir() string {
	if d == nil || d.Path == "" {
		return "."
	}
	return filepath.Dir(d.Path)
}

// Load reads and validates the definition at path.
func Load(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test definition: %w", err)
	}
	def, err := Parse(raw)
	if err != nil {
		var serr *domain.SchemaError
		if errors.As(err, &serr) {
			serr.Subject = path
		}
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	def.Path = abs
	return def, nil
}

// Parse validates raw against the definition schema and decodes it.
func Parse(raw []byte) (*Definition, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, &domain.SchemaError{Subject: "test definition", Issues: []string{err.Error()}}
	}
	return &def, nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

func validateSchema(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	doc, err := yamlToJSON(raw)
	if err != nil {
		return &domain.SchemaError{Subject: "test definition", Issues: []string{err.Error()}}
	}
	if err := s.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		out := &domain.SchemaError{Subject: "test definition"}
		for _, issue := range leafIssues(verr) {
			out.Add(issue)
		}
		if len(out.Issues) == 0 {
			out.Add(verr.Error())
		}
		return out
	}
	return nil
}

// yamlToJSON decodes YAML into the generic JSON value shape the validator expects.
func yamlToJSON(raw []byte) (any, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if doc == nil {
		return nil, errors.New("test definition is empty")
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func leafIssues(verr *jsonschema.ValidationError) []string {
	seen := map[string]struct{}{}
	var issues []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			issue := loc + ": " + e.Message
			if _, ok := seen[issue]; !ok {
				seen[issue] = struct{}{}
				issues = append(issues, issue)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	sort.Strings(issues)
	return issues
}

// Summary lists the declared fixtures and parameter sets, one per line.
func (d *Definition) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "test: %s\n", d.Name)
	b.WriteString("fixtures:\n")
	for _, in := range d.Fixtures.Inputs {
		fmt.Fprintf(&b, "  - %s\n", in.describe())
	}
	b.WriteString("parameters:\n")
	if len(d.Run.Parameters) == 0 {
		fmt.Fprintf(&b, "  - %s\n", domain.DefaultRunName)
	}
	for _, p := range d.Run.Parameters {
		params, _ := json.Marshal(p.Params)
		line := "  - " + p.Name
		if len(p.Params) > 0 {
			line += " " + string(params)
		}
		if p.IgnorePlaybackFinish {
			line += " (ignore_playback_finish)"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (in InputSpec) describe() string {
	switch {
	case in.Local != nil:
		return "local: " + in.Local.Path
	case in.S3 != nil:
		bucket := in.S3.Bucket
		if bucket == "" {
			bucket = "$AWS_BUCKET"
		}
		return "s3: s3://" + bucket + "/" + strings.TrimPrefix(in.S3.Key, "/")
	case in.Nexus != nil:
		return "nexus: " + in.Nexus.Path
	default:
		return "<empty>"
	}
}
