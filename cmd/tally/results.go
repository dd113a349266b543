package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/tally/internal/config"
	"github.com/bamsammich/tally/internal/store"
	"github.com/bamsammich/tally/internal/ui"
)

func newResultsCmd() *cobra.Command {
	var (
		resultsDir string
		limit      int
		since      string
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "List recorded analysis results",
		Long: `List the results a server has recorded, oldest first. The SQLite index is
used when the server ran with --index; otherwise results.log is read.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("results-dir") {
				resultsDir = defaultResultsDir(loadConfig().Server, resultsDir)
			}
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			records, err := loadResults(cmd.Context(), resultsDir, from, limit)
			if err != nil {
				return err
			}
			printResults(os.Stdout, records)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&resultsDir, "results-dir", "results", "server results directory")
	f.IntVar(&limit, "limit", 0, "show at most N results (0 shows all)")
	f.StringVar(&since, "since", "", "only results analyzed after a duration ago (1h) or an RFC 3339 time")

	return cmd
}

// defaultResultsDir prefers the config file, then a running server's
// discovery file, then fallback.
func defaultResultsDir(c config.ServerConfig, fallback string) string {
	if c.ResultsDir != nil {
		return *c.ResultsDir
	}
	if d, err := config.ReadDiscovery(); err == nil && d.ResultsDir != "" {
		return d.ResultsDir
	}
	return fallback
}

// parseSince accepts "", a duration before now, or an RFC 3339 timestamp.
func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want a duration or RFC 3339 time", s)
	}
	return t, nil
}

func loadResults(ctx context.Context, dir string, since time.Time, limit int) ([]store.LogRecord, error) {
	indexPath := store.IndexPath(dir)
	if _, err := os.Stat(indexPath); err == nil {
		idx, err := store.OpenIndex(indexPath)
		if err != nil {
			return nil, err
		}
		defer idx.Close()

		entries, err := idx.List(ctx, since, limit)
		if err != nil {
			return nil, err
		}
		records := make([]store.LogRecord, len(entries))
		for i, e := range entries {
			records[i] = store.Summarize(e)
		}
		return records, nil
	}

	records, err := store.ReadLog(filepath.Join(dir, store.LogFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no results in %s", dir)
	}
	if err != nil {
		return nil, err
	}
	records = store.Since(records, since)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func printResults(w io.Writer, records []store.LogRecord) {
	for _, r := range records {
		fmt.Fprintf(w, "%s  %s  %s  %s\n",
			r.AnalyzedAt.Format(time.RFC3339),
			r.FileName,
			ui.FormatCounts(r.Counts()),
			ui.FormatBytes(r.Size),
		)
	}
}
