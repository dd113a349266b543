package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "tally",
		Short: "Send text files to a server that counts their lines, words and characters",
		Long: `tally is a small TCP file service. "tally serve" receives files, stores them,
computes line, word and character counts, records each result and returns it
to the sender. "tally send" uploads files and prints the server's answers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "tally %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newResultsCmd())
	rootCmd.AddCommand(docsCmd)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	return 0
}

// loadConfig reads the optional config file. A broken file is reported and
// otherwise ignored.
func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "path", config.Path(), "error", err)
	}
	return cfg
}

// setupLogging installs the default slog logger: text on stderr at a level
// chosen by -v/-q, plus a JSON handler on logFile when one is given. The
// returned func closes the log file.
func setupLogging(verbose, quiet bool, logFile string) (*slog.Logger, func(), error) {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	} else if !quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	var logHandler slog.Handler = textHandler
	closer := func() {}
	if logFile != "" {
		lf, err := os.Create(logFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closer = func() { lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// logEvent writes one structured record per event at debug level.
func logEvent(logger *slog.Logger) event.Emitter {
	return func(ev event.Event) {
		if ev.Type == event.FileProgress {
			return
		}
		attrs := []slog.Attr{
			slog.String("type", ev.Type.String()),
		}
		if ev.Path != "" {
			attrs = append(attrs, slog.String("path", ev.Path))
		}
		if ev.Session != "" {
			attrs = append(attrs, slog.String("session", ev.Session))
		}
		if ev.Size > 0 {
			attrs = append(attrs, slog.Int64("size", ev.Size))
		}
		if ev.Error != nil {
			attrs = append(attrs, slog.String("error", ev.Error.Error()))
		}
		logger.LogAttrs(context.Background(), slog.LevelDebug, "tally.event", attrs...)
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
