package launch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/animus-labs/replay-testing/internal/platform/logging"
)

const (
	DefaultSigtermTimeout = 5 * time.Second
	DefaultSigkillTimeout = 5 * time.Second
)

// Service runs descriptions as local child processes. Each child gets its own
// process group so signals reach everything it spawned.
type Service struct {
	logger         *slog.Logger
	sigtermTimeout time.Duration
	sigkillTimeout time.Duration
}

func NewService(logger *slog.Logger, sigtermTimeout, sigkillTimeout time.Duration) *Service {
	if sigtermTimeout <= 0 {
		sigtermTimeout = DefaultSigtermTimeout
	}
	if sigkillTimeout <= 0 {
		sigkillTimeout = DefaultSigkillTimeout
	}
	return &Service{
		logger:         logging.OrDiscard(logger),
		sigtermTimeout: sigtermTimeout,
		sigkillTimeout: sigkillTimeout,
	}
}

type child struct {
	spec   Process
	cmd    *exec.Cmd
	exited atomic.Bool
	stdout *lineWriter
	stderr *lineWriter
}

type exitEvent struct {
	child *child
	err   error
}

// Launch starts every process and waits for all of them. The exit of a
// ShutdownOnExit process or the end of ctx interrupts the others, escalating to
// SIGTERM and SIGKILL when they do not stop in time. Cancellation is reported as
// an error wrapping ctx.Err().
func (s *Service) Launch(ctx context.Context, desc Description) error {
	if s == nil {
		return fmt.Errorf("launch service not initialized")
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	logger := s.logger.With("launch", desc.Name)

	exits := make(chan exitEvent, len(desc.Processes))
	children := make([]*child, 0, len(desc.Processes))
	var runErr error
	for _, p := range desc.Processes {
		c, err := s.start(logger, p)
		if err != nil {
			runErr = fmt.Errorf("start %s: %w", p.Name, err)
			break
		}
		children = append(children, c)
		go func() {
			err := c.cmd.Wait()
			c.exited.Store(true)
			exits <- exitEvent{child: c, err: err}
		}()
	}

	var stop *shutdown
	if runErr != nil {
		stop = s.beginShutdown(logger, children, "start failure")
	}
	done := ctx.Done()
	for remaining := len(children); remaining > 0; {
		select {
		case ev := <-exits:
			remaining--
			ev.child.stdout.Flush()
			ev.child.stderr.Flush()
			logExit(logger, ev)
			if ev.child.spec.ShutdownOnExit && stop == nil {
				stop = s.beginShutdown(logger, children, ev.child.spec.Name+" exited")
			}
		case <-done:
			done = nil
			if stop == nil {
				runErr = fmt.Errorf("launch %s interrupted: %w", desc.Name, ctx.Err())
				stop = s.beginShutdown(logger, children, "context done")
			}
		}
	}
	if stop != nil {
		stop.finish()
	}
	return runErr
}

func (s *Service) start(logger *slog.Logger, p Process) (*child, error) {
	cmd := exec.Command(p.Cmd[0], p.Cmd[1:]...)
	cmd.Dir = p.Dir
	cmd.Env = mergeEnv(os.Environ(), p.Env)
	cmd.WaitDelay = s.sigtermTimeout + s.sigkillTimeout
	setProcessGroup(cmd)

	plog := logger.With("process", p.Name)
	c := &child{
		spec:   p,
		cmd:    cmd,
		stdout: newLineWriter(plog, "stdout"),
		stderr: newLineWriter(plog, "stderr"),
	}
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	plog.Info("process started", "pid", cmd.Process.Pid, "cmd", strings.Join(p.Cmd, " "))
	return c, nil
}

type shutdown struct {
	stop chan struct{}
	done chan struct{}
}

func (s *Service) beginShutdown(logger *slog.Logger, children []*child, reason string) *shutdown {
	logger.Info("shutting down launch graph", "reason", reason)
	sd := &shutdown{stop: make(chan struct{}), done: make(chan struct{})}
	signalAll(logger, children, os.Interrupt)

	steps := []struct {
		after time.Duration
		sig   os.Signal
	}{
		{after: s.sigtermTimeout, sig: syscall.SIGTERM},
		{after: s.sigkillTimeout, sig: syscall.SIGKILL},
	}
	go func() {
		defer close(sd.done)
		for _, step := range steps {
			timer := time.NewTimer(step.after)
			select {
			case <-sd.stop:
				timer.Stop()
				return
			case <-timer.C:
				logger.Warn("processes still running, escalating", "signal", step.sig.String())
				signalAll(logger, children, step.sig)
			}
		}
	}()
	return sd
}

func (sd *shutdown) finish() {
	close(sd.stop)
	<-sd.done
}

func signalAll(logger *slog.Logger, children []*child, sig os.Signal) {
	for _, c := range children {
		if c.exited.Load() {
			continue
		}
		if err := signalProcess(c.cmd, sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Debug("signal process", "process", c.spec.Name, "signal", sig.String(), "err", err)
		}
	}
}

func logExit(logger *slog.Logger, ev exitEvent) {
	attrs := []any{"process", ev.child.spec.Name}
	var exitErr *exec.ExitError
	switch {
	case ev.err == nil:
		attrs = append(attrs, "code", 0)
	case errors.As(ev.err, &exitErr):
		attrs = append(attrs, "code", exitErr.ExitCode(), "state", exitErr.String())
	default:
		attrs = append(attrs, "err", ev.err)
	}
	logger.Info("process exited", attrs...)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(base)+len(keys))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, override := extra[k]; override {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// lineWriter forwards complete output lines to the logger.
type lineWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	stream string
	buf    []byte
}

func newLineWriter(logger *slog.Logger, stream string) *lineWriter {
	return &lineWriter{logger: logger, stream: stream}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.logger.Info(line, "stream", w.stream)
}
