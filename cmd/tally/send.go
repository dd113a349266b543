package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/proto"
	"github.com/bamsammich/tally/internal/stats"
	"github.com/bamsammich/tally/internal/ui"
	"github.com/bamsammich/tally/internal/units"
)

type sendOpts struct {
	host       string
	port       int
	workers    int
	bwLimit    units.Size
	timeout    time.Duration
	noProgress bool
	quiet      bool
	verbose    bool
}

func newSendCmd() *cobra.Command {
	var o sendOpts

	cmd := &cobra.Command{
		Use:   "send [flags] FILE...",
		Short: "Send files to a tally server and print their statistics",
		Long: `Send each FILE to a tally server over its own connection and print the
line, word and character counts the server returns.

Exit status is 0 when every file succeeded, 1 when some failed and 2 when
none succeeded.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			applySendConfig(cmd, loadConfig().Client, &o)
			return runSend(o, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.host, "host", "127.0.0.1", "server host")
	f.IntVarP(&o.port, "port", "p", proto.DefaultPort, "server port")
	f.IntVarP(&o.workers, "workers", "n", 1, "number of files sent concurrently")
	f.Var(&o.bwLimit, "bwlimit", "bandwidth limit across all transfers (e.g. 100K, 10M)")
	f.DurationVar(&o.timeout, "timeout", 0, "dial timeout and per read/write stall limit (0 disables)")
	f.BoolVar(&o.noProgress, "no-progress", false, "disable the progress display")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "suppress all output except errors")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "verbose output")

	return cmd
}

// applySendConfig fills unset flags from the config file, and the port from
// a running local server's discovery file after that.
func applySendConfig(cmd *cobra.Command, c config.ClientConfig, o *sendOpts) {
	flags := cmd.Flags()
	if !flags.Changed("host") && c.Host != nil {
		o.host = *c.Host
	}
	switch {
	case flags.Changed("port"):
	case c.Port != nil:
		o.port = *c.Port
	default:
		if d, err := config.ReadDiscovery(); err == nil && d.Port > 0 {
			o.port = d.Port
		}
	}
	if !flags.Changed("workers") && c.Workers != nil {
		o.workers = *c.Workers
	}
	if !flags.Changed("bwlimit") && c.BWLimit != nil {
		if err := o.bwLimit.Set(*c.BWLimit); err != nil {
			slog.Warn("ignoring invalid bwlimit in config", "value", *c.BWLimit, "error", err)
		}
	}
	if !flags.Changed("timeout") && c.Timeout != nil {
		if d, err := time.ParseDuration(*c.Timeout); err == nil {
			o.timeout = d
		} else {
			slog.Warn("ignoring invalid timeout in config", "value", *c.Timeout, "error", err)
		}
	}
}

func runSend(o sendOpts, paths []string) error {
	logger, closeLog, err := setupLogging(o.verbose, o.quiet, "")
	if err != nil {
		return err
	}
	defer closeLog()

	if o.workers < 1 {
		return errors.New("--workers must be at least 1")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	collector.SetTotals(totals(paths))

	events := make(chan event.Event, 256)
	presenter := ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Stats:      collector,
		IsTTY:      ui.IsTTY(os.Stderr.Fd()),
		Quiet:      o.quiet,
		NoProgress: o.noProgress,
	})

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Go(func() {
		presenterErr = presenter.Run(events)
	})

	client := proto.NewClient(proto.ClientConfig{
		Addr:        net.JoinHostPort(o.host, strconv.Itoa(o.port)),
		DialTimeout: o.timeout,
		IdleTimeout: o.timeout,
		Limiter:     proto.NewBWLimiter(o.bwLimit.Bytes),
		Workers:     o.workers,
		Events:      event.Chan(events),
		Stats:       collector,
		Logger:      logger,
	})

	logger.Debug("sending files", "addr", net.JoinHostPort(o.host, strconv.Itoa(o.port)),
		"files", len(paths), "workers", o.workers)

	outcomes := client.SendAll(ctx, paths)
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
	}

	if !o.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}

	ok, failed := proto.CountOutcomes(outcomes)
	if failed == 0 {
		return nil
	}
	for _, out := range outcomes {
		if !out.OK() {
			logger.Error("send failed", "file", out.Path, "kind", proto.KindOf(out.Err), "error", out.Err)
		}
	}
	if ok > 0 {
		return &exitError{code: 1} // partial failure
	}
	return &exitError{code: 2} // total failure
}

// totals sums the sizes of the regular files among paths. Files that cannot
// be read are left for the client to report.
func totals(paths []string) (files, bytes int64) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files++
		bytes += info.Size()
	}
	return files, bytes
}
