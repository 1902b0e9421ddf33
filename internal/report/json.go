package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/animus-labs/replay-testing/internal/domain"
)

type jsonReport struct {
	domain.Report
	Totals     domain.Totals `json:"totals"`
	Successful bool          `json:"successful"`
}

// WriteJSON encodes rep with its totals.
func WriteJSON(w io.Writer, rep domain.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{Report: rep, Totals: rep.Totals(), Successful: rep.Successful()})
}

func WriteJSONFile(path string, rep domain.Report) error {
	return writeFile(path, func(w io.Writer) error { return WriteJSON(w, rep) })
}

// Log emits one line per run and a final summary.
func Log(logger *slog.Logger, rep domain.Report) {
	if logger == nil {
		return
	}
	for _, run := range rep.Runs() {
		level := slog.LevelInfo
		if !run.Successful() {
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, "run result",
			"fixture", run.Fixture,
			"run", run.Run,
			"tests", run.Tests(),
			"failures", run.Failures(),
			"errors", run.Errors(),
		)
		for _, o := range run.Outcomes {
			if o.Status != domain.OutcomePass {
				logger.Error("assertion "+string(o.Status), "suite", o.Suite, "name", o.Name, "message", o.Message)
			}
		}
	}
	t := rep.Totals()
	logger.Info("replay test summary",
		"name", rep.Name,
		"tests", t.Tests,
		"passed", t.Passed,
		"failures", t.Failures,
		"errors", t.Errors,
		"successful", rep.Successful(),
	)
}
