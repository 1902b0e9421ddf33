package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"

	"github.com/animus-labs/replay-testing/internal/artifacts"
	"github.com/animus-labs/replay-testing/internal/config"
	"github.com/animus-labs/replay-testing/internal/definition"
	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/fixture"
	"github.com/animus-labs/replay-testing/internal/launch"
	"github.com/animus-labs/replay-testing/internal/ledger"
	"github.com/animus-labs/replay-testing/internal/logstore"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
	platformstore "github.com/animus-labs/replay-testing/internal/platform/objectstore"
	"github.com/animus-labs/replay-testing/internal/platform/postgres"
	"github.com/animus-labs/replay-testing/internal/report"
	"github.com/animus-labs/replay-testing/internal/runner"
	"github.com/animus-labs/replay-testing/internal/storage/objectstore"
)

const jsonReportName = "results.json"

type options struct {
	PackageName string `long:"package-name" value-name:"NAME" description:"package the test belongs to; prefixes the report name"`
	Verbose     bool   `short:"v" long:"verbose" description:"log at debug level"`
	ShowArgs    bool   `short:"s" long:"show-args" description:"print the declared fixtures and parameter sets and exit"`
	ShowArgsAlt bool   `long:"show-arguments" hidden:"yes"`
	JUnitXML    string `long:"junit-xml" value-name:"PATH" description:"also write the JUnit report to PATH"`
	Args        struct {
		TestFile string `positional-arg-name:"test_file" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func parseOptions(args []string, stdout, stderr io.Writer) (*options, int, bool) {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "replay-test"
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, ferr.Message)
			return nil, 0, false
		}
		fmt.Fprintln(stderr, err)
		return nil, 1, false
	}
	return &opts, 0, true
}

// reportName is <package>.<test file stem>, or the stem alone without a package.
func reportName(pkg, testFile string) string {
	stem := domain.Stem(testFile)
	if pkg = strings.TrimSpace(pkg); pkg != "" {
		return pkg + "." + stem
	}
	return stem
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, code, ok := parseOptions(args, stdout, stderr)
	if !ok {
		return code
	}
	logger := logging.New(stderr, opts.Verbose)

	def, err := definition.Load(opts.Args.TestFile)
	if err != nil {
		logger.Error("invalid test definition", "path", opts.Args.TestFile, "err", err)
		return 1
	}
	if opts.ShowArgs || opts.ShowArgsAlt {
		fmt.Fprint(stdout, def.Summary())
		return 0
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}
	sessionID := uuid.NewString()
	resultsDir, err := cfg.SessionDir(sessionID)
	if err != nil {
		logger.Error("resolve results directory", "err", err)
		return 1
	}
	logger = logger.With("session_id", sessionID)

	plan, err := def.Plan(definition.Options{Cache: fixture.Cache{Dir: cfg.CacheDir}, Logger: logger})
	if err != nil {
		logger.Error("invalid test definition", "path", def.Path, "err", err)
		return 1
	}
	r, err := runner.New(cfg, resultsDir, logstore.NewMCAPStore(), launch.NewService(logger, cfg.SigtermTimeout, cfg.SigkillTimeout), logger)
	if err != nil {
		logger.Error("create runner", "err", err)
		return 1
	}
	logger.Info("replay test starting", "test", def.Path, "results_dir", resultsDir)

	rep, runErr := r.Execute(ctx, reportName(opts.PackageName, def.Path), plan)
	rep.SessionID = sessionID
	report.Log(logger, rep)

	code = 0
	if runErr != nil {
		logger.Error("replay test finished with errors", "err", runErr)
		code = 1
	}
	if !rep.Successful() {
		code = 1
	}
	if err := writeReports(resultsDir, opts.JUnitXML, rep); err != nil {
		logger.Error("write report", "err", err)
		code = 1
	}

	recordLedger(ctx, logger, rep)
	if cfg.UploadArtifacts {
		uploadArtifacts(ctx, logger, cfg, resultsDir, rep)
	}
	logger.Info("replay test finished", "results", filepath.Join(resultsDir, report.ResultsFileName), "exit_code", code)
	return code
}

func writeReports(resultsDir, junitPath string, rep domain.Report) error {
	errs := []error{
		report.WriteJUnitFile(filepath.Join(resultsDir, report.ResultsFileName), rep),
		report.WriteJSONFile(filepath.Join(resultsDir, jsonReportName), rep),
	}
	if junitPath != "" {
		errs = append(errs, report.WriteJUnitFile(junitPath, rep))
	}
	return errors.Join(errs...)
}

func recordLedger(ctx context.Context, logger *slog.Logger, rep domain.Report) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Warn("invalid ledger config, skipping", "err", err)
		return
	}
	if !dbCfg.Enabled() {
		return
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Warn("ledger unavailable", "err", err)
		return
	}
	defer func() { _ = db.Close() }()

	l := ledger.New(db, logger)
	if err := l.EnsureSchema(ctx); err != nil {
		logger.Warn("ledger schema", "err", err)
		return
	}
	if err := l.Record(ctx, rep); err != nil {
		logger.Warn("record session in ledger", "err", err)
	}
}

func uploadArtifacts(ctx context.Context, logger *slog.Logger, cfg config.Config, resultsDir string, rep domain.Report) {
	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Warn("invalid object store config, skipping artifact upload", "err", err)
		return
	}
	store, err := objectstore.NewMinioStore(storeCfg)
	if err != nil {
		logger.Warn("object store unavailable", "err", err)
		return
	}
	if err := platformstore.EnsureBucket(ctx, store.Client(), cfg.ArtifactsBucket, storeCfg.Region); err != nil {
		logger.Warn("ensure artifact bucket", "bucket", cfg.ArtifactsBucket, "err", err)
		return
	}
	uploader := artifacts.Uploader{Store: store, Bucket: cfg.ArtifactsBucket, Prefix: cfg.ArtifactsPrefix, Logger: logger}
	if _, err := uploader.Upload(ctx, resultsDir, rep, report.ResultsFileName, jsonReportName); err != nil {
		logger.Warn("artifact upload incomplete", "err", err)
	}
}
