package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/analysis"
	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/proto"
	"github.com/bamsammich/tally/internal/stats"
	"github.com/bamsammich/tally/internal/store"
)

type serveOpts struct {
	port         int
	filesDir     string
	resultsDir   string
	idleTimeout  time.Duration
	drainTimeout time.Duration
	compress     bool
	index        bool
	logFile      string
	verbose      bool
}

func newServeCmd() *cobra.Command {
	var o serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive files and answer with their statistics",
		Long: `Listen for tally clients. Every connection carries one file: the server
stores it under --files-dir, counts its lines, words and characters, appends
the result to --results-dir/results.log and sends the result back.

A discovery file is written while the server runs so that "tally send" and
"tally results" on the same host find the port and results directory without
flags.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applyServeConfig(cmd, loadConfig().Server, &o)
			return runServe(o)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&o.port, "port", "p", proto.DefaultPort, "TCP port to listen on")
	f.StringVar(&o.filesDir, "files-dir", "received_files", "directory for received files")
	f.StringVar(&o.resultsDir, "results-dir", "results", "directory for the result log")
	f.DurationVar(&o.idleTimeout, "idle-timeout", 0, "drop connections idle for this long (0 disables)")
	f.DurationVar(&o.drainTimeout, "drain-timeout", 0,
		"on shutdown, close sessions still running after this long (0 waits for all)")
	f.BoolVar(&o.compress, "compress", false, "store received files zstd-compressed")
	f.BoolVar(&o.index, "index", false, "also record results in a SQLite index")
	f.StringVar(&o.logFile, "log", "", "write structured JSON log to FILE")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")

	return cmd
}

// applyServeConfig applies config file defaults for flags not explicitly set
// on the CLI.
//
//nolint:gocyclo // one branch per flag
func applyServeConfig(cmd *cobra.Command, c config.ServerConfig, o *serveOpts) {
	flags := cmd.Flags()
	if !flags.Changed("port") && c.Port != nil {
		o.port = *c.Port
	}
	if !flags.Changed("files-dir") && c.FilesDir != nil {
		o.filesDir = *c.FilesDir
	}
	if !flags.Changed("results-dir") && c.ResultsDir != nil {
		o.resultsDir = *c.ResultsDir
	}
	if !flags.Changed("idle-timeout") && c.IdleTimeout != nil {
		if d, err := time.ParseDuration(*c.IdleTimeout); err == nil {
			o.idleTimeout = d
		} else {
			slog.Warn("ignoring invalid idle_timeout in config", "value", *c.IdleTimeout, "error", err)
		}
	}
	if !flags.Changed("drain-timeout") && c.DrainTimeout != nil {
		if d, err := time.ParseDuration(*c.DrainTimeout); err == nil {
			o.drainTimeout = d
		} else {
			slog.Warn("ignoring invalid drain_timeout in config", "value", *c.DrainTimeout, "error", err)
		}
	}
	if !flags.Changed("compress") && c.Compress != nil {
		o.compress = *c.Compress
	}
	if !flags.Changed("index") && c.Index != nil {
		o.index = *c.Index
	}
}

//nolint:revive // cyclomatic: store setup + listener + discovery, irreducible
func runServe(o serveOpts) error {
	logger, closeLog, err := setupLogging(o.verbose, false, o.logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	files, err := store.NewFileStore(o.filesDir, store.WithCompression(o.compress))
	if err != nil {
		return err
	}

	resultLog, err := store.OpenResultLog(o.resultsDir)
	if err != nil {
		return err
	}
	defer resultLog.Close()

	recorder := store.Recorder(resultLog)
	if o.index {
		idx, err := store.OpenIndex(store.IndexPath(o.resultsDir))
		if err != nil {
			return err
		}
		defer idx.Close()
		recorder = store.Multi(resultLog, idx)
	}

	collector := stats.NewCollector()
	srv, err := proto.NewServer(proto.ServerConfig{
		ListenAddr: fmt.Sprintf(":%d", o.port),
		Session: proto.SessionConfig{
			Files:       files,
			Recorder:    recorder,
			Analyze:     analysis.CountReader,
			Stats:       collector,
			Events:      logEvent(logger),
			Logger:      logger,
			IdleTimeout: o.idleTimeout,
		},
		Logger:       logger,
		DrainTimeout: o.drainTimeout,
	})
	if err != nil {
		return err
	}

	addr := srv.Addr()
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address type: %T", addr)
	}
	if err := config.WriteDiscovery(config.Discovery{
		StartedAt:  time.Now().UTC(),
		Addr:       addr.String(),
		FilesDir:   absPath(o.filesDir),
		ResultsDir: absPath(o.resultsDir),
		Port:       tcpAddr.Port,
		PID:        os.Getpid(),
	}); err != nil {
		logger.Warn("failed to write discovery file", "error", err)
	}
	defer config.RemoveDiscovery()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = srv.Serve(ctx)
	logger.Info("session totals", "stats", collector.Snapshot().String())
	return err
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
