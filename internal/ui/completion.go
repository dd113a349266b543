package ui

import (
	"fmt"

	"github.com/bamsammich/tally/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  files 12  size 4.1 MB  avg 38.2 MB/s  time 2s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesTransferred) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.FilesFailed > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  files %s  size %s  avg %s  time %s  errors %d",
		icon,
		FormatCount(snap.FilesCompleted),
		FormatBytes(snap.BytesTransferred),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
		snap.FilesFailed,
	)
}
