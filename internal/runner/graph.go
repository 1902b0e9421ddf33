package runner

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/launch"
	"github.com/animus-labs/replay-testing/internal/stage"
)

const (
	recorderName = "replay_recorder"
	playerName   = "replay_player"
)

// commandData is visible to recorder and player command templates.
type commandData struct {
	OutputDir string
	Input     string
	ClockHz   int
	Run       string
	Fixture   string
}

func renderCmd(args []string, data commandData) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parse command argument %q: %w", arg, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render command argument %q: %w", arg, err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

// buildGraph composes the recorder sidecar, the user graph and the player.
func (r *Runner) buildGraph(fx *domain.ReplayFixture, decl *stage.RunDeclaration, params domain.RunParams, transientDir string) (launch.Description, error) {
	user, err := decl.Generate(params)
	if err != nil {
		return launch.Description{}, fmt.Errorf("generate launch for %s: %w", params.Name, err)
	}
	if len(user.Processes) == 0 {
		return launch.Description{}, errors.New("launch generator returned no processes")
	}
	userShutdown := false
	for i := range user.Processes {
		if user.Processes[i].Role == "" {
			user.Processes[i].Role = launch.RoleUser
		}
		userShutdown = userShutdown || user.Processes[i].ShutdownOnExit
	}
	if params.IgnorePlaybackFinish && !userShutdown {
		return launch.Description{}, errors.New("ignore_playback_finish requires a user process with shutdown_on_exit")
	}

	data := commandData{
		OutputDir: transientDir,
		Input:     fx.Filtered.Path,
		ClockHz:   r.cfg.ClockHz,
		Run:       params.Name,
		Fixture:   fx.Name,
	}
	recorderCmd, err := renderCmd(r.cfg.RecorderCmd, data)
	if err != nil {
		return launch.Description{}, err
	}
	playerCmd, err := renderCmd(r.cfg.PlayerCmd, data)
	if err != nil {
		return launch.Description{}, err
	}
	if decl.QoSOverridesPath != "" {
		playerCmd = append(playerCmd, "--qos-profile-overrides-path", decl.QoSOverridesPath)
	}

	recorder := launch.Process{
		Name:   recorderName,
		Role:   launch.RoleRecorder,
		Cmd:    recorderCmd,
		Labels: map[string]string{launch.LabelOutputDir: transientDir},
	}
	player := launch.Process{
		Name:           playerName,
		Role:           launch.RolePlayer,
		Cmd:            playerCmd,
		Env:            map[string]string{"PYTHONUNBUFFERED": "1"},
		ShutdownOnExit: !params.IgnorePlaybackFinish,
		Labels:         map[string]string{launch.LabelInput: fx.Filtered.Path},
	}
	desc := launch.Description{Name: fx.Name + "/" + params.Name, Processes: []launch.Process{recorder}}
	return desc.Append(user, launch.Description{Processes: []launch.Process{player}}), nil
}
