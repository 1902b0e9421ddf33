package analyze

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/animus-labs/replay-testing/internal/logstore"
)

// CountBounds constrains a message count. Nil fields are unconstrained.
type CountBounds struct {
	Equals *int
	Min    *int
	Max    *int
}

func (b CountBounds) Validate() error {
	if b.Equals == nil && b.Min == nil && b.Max == nil {
		return errors.New("one of equals, min or max is required")
	}
	if b.Equals != nil && (b.Min != nil || b.Max != nil) {
		return errors.New("equals cannot be combined with min or max")
	}
	if b.Min != nil && b.Max != nil && *b.Min > *b.Max {
		return fmt.Errorf("min %d is greater than max %d", *b.Min, *b.Max)
	}
	return nil
}

// MessageCount asserts how many messages were published on topic.
func MessageCount(topic string, bounds CountBounds) Check {
	return func(_ context.Context, log logstore.Reader) error {
		n, err := logstore.Count(log, topic)
		if err != nil {
			return err
		}
		switch {
		case bounds.Equals != nil && n != *bounds.Equals:
			return Failf("%s: got %d messages, want %d", topic, n, *bounds.Equals)
		case bounds.Min != nil && n < *bounds.Min:
			return Failf("%s: got %d messages, want at least %d", topic, n, *bounds.Min)
		case bounds.Max != nil && n > *bounds.Max:
			return Failf("%s: got %d messages, want at most %d", topic, n, *bounds.Max)
		}
		return nil
	}
}

// TopicPresent asserts that topic is declared in the log.
func TopicPresent(topic string) Check {
	return func(_ context.Context, log logstore.Reader) error {
		names, err := logstore.TopicNames(log)
		if err != nil {
			return err
		}
		if !slices.Contains(names, topic) {
			return Failf("topic %s not recorded; recorded topics: %v", topic, names)
		}
		return nil
	}
}

// TopicAbsent asserts that nothing was published on topic.
func TopicAbsent(topic string) Check {
	return func(_ context.Context, log logstore.Reader) error {
		n, err := logstore.Count(log, topic)
		if err != nil {
			return err
		}
		if n > 0 {
			return Failf("topic %s has %d messages, want none", topic, n)
		}
		return nil
	}
}

// TopicType asserts the schema name of topic.
func TopicType(topic, messageType string) Check {
	return func(_ context.Context, log logstore.Reader) error {
		topics, err := log.Topics()
		if err != nil {
			return err
		}
		for _, t := range topics {
			if t.Name != topic {
				continue
			}
			if t.Schema.Name != messageType {
				return Failf("topic %s has type %q, want %q", topic, t.Schema.Name, messageType)
			}
			return nil
		}
		return Failf("topic %s not recorded", topic)
	}
}

// ExprEnv summarizes a log for boolean expressions. Expressions see it through
// Vars: topics, counts, total, duration, count(topic), has(topic),
// first_time(topic) and last_time(topic).
type ExprEnv struct {
	Topics   []string
	Counts   map[string]int
	Total    int
	Duration float64

	first map[string]uint64
	last  map[string]uint64
}

func (e ExprEnv) Count(topic string) int { return e.Counts[topic] }

func (e ExprEnv) Has(topic string) bool { return slices.Contains(e.Topics, topic) }

// FirstTime returns the log time in seconds of the first message on topic, or -1.
func (e ExprEnv) FirstTime(topic string) float64 {
	t, ok := e.first[topic]
	if !ok {
		return -1
	}
	return float64(t) / 1e9
}

// LastTime returns the log time in seconds of the last message on topic, or -1.
func (e ExprEnv) LastTime(topic string) float64 {
	t, ok := e.last[topic]
	if !ok {
		return -1
	}
	return float64(t) / 1e9
}

func (e ExprEnv) Vars() map[string]any {
	return map[string]any{
		"topics":     e.Topics,
		"counts":     e.Counts,
		"total":      e.Total,
		"duration":   e.Duration,
		"count":      e.Count,
		"has":        e.Has,
		"first_time": e.FirstTime,
		"last_time":  e.LastTime,
	}
}

// CompileExpr type-checks a boolean expression against the expression variables.
func CompileExpr(expression string) (*vm.Program, error) {
	program, err := expr.Compile(expression, expr.Env(ExprEnv{}.Vars()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return program, nil
}

// Expr asserts that a compiled boolean expression holds for the log.
func Expr(expression string, program *vm.Program) Check {
	return func(_ context.Context, log logstore.Reader) error {
		env, err := NewExprEnv(log)
		if err != nil {
			return err
		}
		out, err := expr.Run(program, env.Vars())
		if err != nil {
			return fmt.Errorf("evaluate expression: %w", err)
		}
		ok, isBool := out.(bool)
		if !isBool {
			return fmt.Errorf("expression returned %T, want bool", out)
		}
		if !ok {
			return Failf("expression %q is false (total=%d counts=%v)", expression, env.Total, env.Counts)
		}
		return nil
	}
}

// NewExprEnv scans log once to build the expression environment.
func NewExprEnv(log logstore.Reader) (ExprEnv, error) {
	names, err := logstore.TopicNames(log)
	if err != nil {
		return ExprEnv{}, err
	}
	env := ExprEnv{
		Topics: names,
		Counts: map[string]int{},
		first:  map[string]uint64{},
		last:   map[string]uint64{},
	}
	var minTime, maxTime uint64
	for msg, err := range log.Messages() {
		if err != nil {
			return ExprEnv{}, err
		}
		env.Counts[msg.Topic]++
		env.Total++
		if _, ok := env.first[msg.Topic]; !ok || msg.LogTime < env.first[msg.Topic] {
			env.first[msg.Topic] = msg.LogTime
		}
		if msg.LogTime > env.last[msg.Topic] {
			env.last[msg.Topic] = msg.LogTime
		}
		if env.Total == 1 || msg.LogTime < minTime {
			minTime = msg.LogTime
		}
		if msg.LogTime > maxTime {
			maxTime = msg.LogTime
		}
	}
	if env.Total > 0 {
		env.Duration = float64(maxTime-minTime) / 1e9
	}
	return env, nil
}
