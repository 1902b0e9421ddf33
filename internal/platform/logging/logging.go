// Package logging builds the harness logger and its stage banners.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New returns a human-readable logger writing to w. Colors are enabled only when w
// is a terminal; verbose lowers the level to debug.
func New(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !IsTerminal(w),
	}))
}

func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Stage logs a banner that marks a phase boundary.
func Stage(logger *slog.Logger, name string, done bool) {
	if logger == nil {
		return
	}
	state := "STARTING"
	if done {
		state = "COMPLETE"
	}
	logger.Info(fmt.Sprintf("===== STAGE %s %s =====", strings.ToUpper(name), state))
}

// OrDiscard returns logger, or a logger that drops every record when it is nil.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}
