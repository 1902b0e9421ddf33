// Package report renders a session report as JUnit XML and JSON.
package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/animus-labs/replay-testing/internal/domain"
)

// ResultsFileName is the JUnit file written to every results directory.
const ResultsFileName = "results.xml"

// Report files are world-readable.
const reportFileMode os.FileMode = 0o644

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Time       string          `xml:"time,attr"`
	Hostname   string          `xml:"hostname,attr,omitempty"`
	Timestamp  string          `xml:"timestamp,attr,omitempty"`
	Properties []junitProperty `xml:"properties>property"`
	Cases      []junitCase     `xml:"testcase"`
}

type junitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type junitCase struct {
	ClassName string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitProblem `xml:"failure,omitempty"`
	Error     *junitProblem `xml:"error,omitempty"`
}

type junitProblem struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// suiteName identifies one (fixture, run) pair in CI dashboards.
func suiteName(r domain.RunReport) string {
	return r.Fixture + "." + r.Run
}

func buildJUnit(rep domain.Report) junitSuites {
	hostname, _ := os.Hostname()
	var timestamp string
	if !rep.StartedAt.IsZero() {
		timestamp = rep.StartedAt.UTC().Format("2006-01-02T15:04:05")
	}

	totals := rep.Totals()
	out := junitSuites{
		Name:     rep.Name,
		Tests:    totals.Tests,
		Failures: totals.Failures,
		Errors:   totals.Errors,
	}
	var total time.Duration
	for _, run := range rep.Runs() {
		suite := junitSuite{
			Name:      suiteName(run),
			Tests:     run.Tests(),
			Failures:  run.Failures(),
			Errors:    run.Errors(),
			Time:      seconds(run.Duration()),
			Hostname:  hostname,
			Timestamp: timestamp,
			Properties: []junitProperty{
				{Name: "fixture", Value: run.Fixture},
				{Name: "run", Value: run.Run},
				{Name: "filtered_fixture_path", Value: run.FilteredPath},
				{Name: "run_fixture_path", Value: run.OutputPath},
			},
		}
		for _, o := range run.Outcomes {
			c := junitCase{ClassName: o.Suite, Name: o.Name, Time: seconds(o.Duration)}
			switch o.Status {
			case domain.OutcomeFail:
				c.Failure = &junitProblem{Message: o.Message, Body: o.Message}
			case domain.OutcomeError:
				c.Error = &junitProblem{Message: o.Message, Body: o.Message}
			}
			suite.Cases = append(suite.Cases, c)
		}
		total += run.Duration()
		out.Suites = append(out.Suites, suite)
	}
	out.Time = seconds(total)
	return out
}

// WriteJUnit encodes rep as a JUnit document.
func WriteJUnit(w io.Writer, rep domain.Report) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(buildJUnit(rep)); err != nil {
		return fmt.Errorf("encode junit report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteJUnitFile writes the report to path, creating parent directories.
func WriteJUnitFile(path string, rep domain.Report) error {
	return writeFile(path, func(w io.Writer) error { return WriteJUnit(w, rep) })
}

func writeFile(path string, encode func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(reportFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("create report file: %w", err)
	}
	if err := encode(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
