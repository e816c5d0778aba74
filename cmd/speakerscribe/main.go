// Command speakerscribe transcribes a recording and labels who spoke when.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tiroq/speakerscribe/internal/config"
	"github.com/tiroq/speakerscribe/internal/diaglog"
	"github.com/tiroq/speakerscribe/internal/fileutil"
	"github.com/tiroq/speakerscribe/internal/ipc"
	"github.com/tiroq/speakerscribe/internal/logger"
	"github.com/tiroq/speakerscribe/internal/pipeline"
	"github.com/tiroq/speakerscribe/internal/watch"
)

// Version is set at link time.
var Version = "dev"

// Exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitUsage        = 2
	exitPrecondition = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "export-diag", "--export-diag":
			return exportDiag(args[1:], stdout, stderr)
		case "status":
			return showStatus(args[1:], stdout, stderr)
		}
	}

	fs := config.NewFlagSet("speakerscribe")
	fs.SetOutput(stderr)
	version := fs.Bool("version", false, "print version and exit")
	cfg, err := config.Load(fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitUsage
	}
	if *version {
		fmt.Fprintln(stdout, "speakerscribe", Version)
		return exitOK
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintln(stderr, "run with --help for usage")
		return exitUsage
	}

	log, err := logger.Build(logger.Options{Debug: cfg.Debug, Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitUsage
	}
	defer func() { _ = log.Sync() }()

	diag, err := openDiag(cfg)
	if err != nil {
		log.Warnw("Diagnostic log disabled", "error", err)
		diag = diaglog.NewNoOp()
	}
	defer diag.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := buildBackends(cfg, log, diag)
	if err != nil {
		log.Errorw("Failed to set up backends", "error", err)
		return exitUsage
	}
	defer b.close()

	if cfg.Health {
		return healthReport(ctx, cfg, b, stdout)
	}

	p := &pipeline.Pipeline{
		Prep:        b.prep,
		Transcriber: b.registry,
		Diarizer:    b.diarizer,
		Log:         log,
		Diag:        diag,
		Opts:        pipelineOptions(cfg),
	}

	if cfg.Watch.Dir != "" {
		return runWatch(ctx, cfg, p, log, diag)
	}

	log.Infow("Starting speakerscribe", "version", Version, "input", cfg.Input, "config", cfg.ConfigFile)
	res, err := p.Run(ctx, pipeline.Request{Input: cfg.Input, OutputBase: cfg.OutputBase()})
	if err != nil {
		return report(stderr, err)
	}
	for _, out := range res.Outputs {
		fmt.Fprintln(stdout, out)
	}
	return exitOK
}

func runWatch(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, log *logger.Logger, diag *diaglog.Logger) int {
	statusPath := cfg.Watch.StatusFile
	if statusPath == "" {
		statusPath = ipc.DefaultStatusPath()
	}
	status := &ipc.StatusSnapshot{
		State:     ipc.StateIdle,
		PID:       os.Getpid(),
		Dir:       cfg.Watch.Dir,
		StartedAt: time.Now(),
	}
	writeStatus := func() {
		if err := ipc.WriteStatus(statusPath, status); err != nil {
			log.Warnw("Failed to write status", "path", statusPath, "error", err)
		}
	}

	handler := func(ctx context.Context, path string) error {
		status.State, status.Current = ipc.StateProcessing, path
		writeStatus()

		res, err := p.Run(ctx, pipeline.Request{Input: path, OutputBase: fileutil.OutputBase(cfg.Output, path)})

		status.State, status.Current, status.LastFile = ipc.StateIdle, "", path
		if err != nil {
			status.Failed++
			status.LastError = err.Error()
		} else {
			status.Processed++
			status.LastRunID = res.RunID
			status.LastError = ""
		}
		writeStatus()
		return err
	}
	w, err := watch.New(watch.Config{
		Dir:        cfg.Watch.Dir,
		Extensions: cfg.Watch.Extensions,
		Debounce:   cfg.Watch.Debounce,
		Poll:       cfg.Watch.Poll,
	}, handler, log, diag)
	if err != nil {
		log.Errorw("Cannot watch directory", "error", err)
		return exitPrecondition
	}
	writeStatus()
	defer func() {
		status.State, status.Current = ipc.StateStopped, ""
		writeStatus()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("Watcher stopped", "error", err)
		return exitFailure
	}
	log.Infow("Watcher stopped")
	return exitOK
}

// showStatus prints the status file of a running (or stopped) watcher.
func showStatus(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", ipc.DefaultStatusPath(), "status file to read")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	st, err := ipc.ReadStatus(*path)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitFailure
	}
	fmt.Fprintf(stdout, "state:     %s (pid %d)\n", st.State, st.PID)
	fmt.Fprintf(stdout, "dir:       %s\n", st.Dir)
	if st.Current != "" {
		fmt.Fprintf(stdout, "current:   %s\n", st.Current)
	}
	fmt.Fprintf(stdout, "processed: %d, failed: %d\n", st.Processed, st.Failed)
	if st.LastError != "" {
		fmt.Fprintf(stdout, "last error: %s\n", st.LastError)
	}
	fmt.Fprintf(stdout, "updated:   %s\n", st.Timestamp.Format(time.RFC3339))
	return exitOK
}

// report prints err and maps it onto an exit code.
func report(stderr io.Writer, err error) int {
	if pipeline.IsPrecondition(err) {
		fmt.Fprintln(stderr, "precondition failed:", err)
		return exitPrecondition
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, "interrupted")
		return exitFailure
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitFailure
}

func openDiag(cfg *config.Config) (*diaglog.Logger, error) {
	enabled := cfg.Debug || cfg.Log.DiagDebug || cfg.Log.DiagPath != "" || diaglog.IsDebugEnabled()
	if !enabled {
		return diaglog.NewNoOp(), nil
	}
	return diaglog.New(diagPath(cfg.Log.DiagPath), true)
}

func diagPath(configured string) string {
	if configured != "" {
		return configured
	}
	if p := os.Getenv("SPEAKERSCRIBE_LOG_DIAG_PATH"); p != "" {
		return p
	}
	return filepath.Join(os.TempDir(), "speakerscribe-diag.log")
}

func exportDiag(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("export-diag", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	logPath := fs.String("log", "", "diagnostic log to export (default $SPEAKERSCRIBE_LOG_DIAG_PATH or the temp dir)")
	dest := fs.String("dest", ".", "directory to write the bundle to")
	runID := fs.String("run", "", "only export entries of this run id")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	diaglog.Version = Version
	path, n, err := diaglog.Export(diagPath(*logPath), *dest, *runID)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(stderr, "hint: run with SPEAKERSCRIBE_DEBUG=true or --debug to enable logging")
		}
		return exitFailure
	}
	fmt.Fprintf(stdout, "Wrote: %s (%d lines)\n", path, n)
	return exitOK
}
