// Package launch starts a graph of processes and shuts it down as a unit.
package launch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Launcher runs a description to completion. It returns once every process exited.
type Launcher interface {
	Launch(ctx context.Context, desc Description) error
}

// Role tells what a process contributes to a replay run.
type Role string

const (
	RoleRecorder Role = "recorder"
	RolePlayer   Role = "player"
	RoleUser     Role = "user"
)

const (
	// LabelOutputDir carries the recording directory of a recorder process.
	LabelOutputDir = "replay.output_dir"
	// LabelInput carries the log a player process replays.
	LabelInput = "replay.input"
)

type Process struct {
	Name string
	Role Role
	Cmd  []string
	Env  map[string]string
	Dir  string
	// ShutdownOnExit stops the whole graph when this process exits.
	ShutdownOnExit bool
	Labels         map[string]string
}

type Description struct {
	Name      string
	Processes []Process
}

// Append returns d followed by the processes of others.
func (d Description) Append(others ...Description) Description {
	out := Description{Name: d.Name, Processes: append([]Process(nil), d.Processes...)}
	for _, o := range others {
		out.Processes = append(out.Processes, o.Processes...)
	}
	return out
}

// Find returns the first process with role.
func (d Description) Find(role Role) (Process, bool) {
	for _, p := range d.Processes {
		if p.Role == role {
			return p, true
		}
	}
	return Process{}, false
}

func (d Description) Validate() error {
	if len(d.Processes) == 0 {
		return errors.New("launch description has no processes")
	}
	var issues []string
	seen := map[string]struct{}{}
	for i, p := range d.Processes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("processes[%d].name is required", i))
		} else if _, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("process name %q is duplicated", name))
		}
		seen[name] = struct{}{}
		if len(p.Cmd) == 0 || strings.TrimSpace(p.Cmd[0]) == "" {
			issues = append(issues, fmt.Sprintf("processes[%d].cmd is required", i))
		}
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid launch description %q: %s", d.Name, strings.Join(issues, "; "))
	}
	return nil
}
