package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/analysis"
	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/stats"
)

func testResult(name string) *analysis.Result {
	r := analysis.New(name, analysis.Counts{LineCount: 1, WordCount: 3, CharCount: 14}, time.Unix(0, 0))
	return &r
}

func TestPlainPresenterFileCompleted(t *testing.T) {
	var out, errOut bytes.Buffer
	p := &plainPresenter{w: &out, errW: &errOut, stats: stats.NewCollector()}

	events := make(chan Event, 10)
	events <- Event{Type: event.FileCompleted, Path: "dir/notes.txt", Size: 14, Result: testResult("notes.txt")}
	events <- Event{Type: event.FileCompleted, Path: "dir/big.bin", Size: 1024 * 1024}
	close(events)

	require.NoError(t, p.Run(events))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "dir/notes.txt  lines 1  words 3  chars 14  14 B", lines[0])
	assert.Contains(t, lines[1], "dir/big.bin")
	assert.Contains(t, lines[1], "1.0 MiB")
	assert.Empty(t, errOut.String())
}

func TestPlainPresenterFileFailed(t *testing.T) {
	var out, errOut bytes.Buffer
	p := &plainPresenter{w: &out, errW: &errOut, stats: stats.NewCollector()}

	events := make(chan Event, 5)
	events <- Event{Type: event.FileFailed, Path: "fail.txt", Error: assert.AnError}
	close(events)

	require.NoError(t, p.Run(events))
	assert.Contains(t, out.String(), "fail.txt")
	assert.Contains(t, out.String(), assert.AnError.Error())
}

func TestPlainPresenterIgnoresProgress(t *testing.T) {
	var out, errOut bytes.Buffer
	p := &plainPresenter{w: &out, errW: &errOut, stats: stats.NewCollector()}

	events := make(chan Event, 5)
	events <- Event{Type: event.FileStarted, Path: "a.txt"}
	events <- Event{Type: event.FileProgress, Path: "a.txt", Percent: 50}
	close(events)

	require.NoError(t, p.Run(events))
	assert.Empty(t, out.String())
}

func TestPlainPresenterProgressLine(t *testing.T) {
	var out, errOut bytes.Buffer
	collector := stats.NewCollector()
	collector.SetTotals(4, 4096)
	collector.AddFilesCompleted(1)
	collector.AddFilesFailed(1)
	collector.AddBytesTransferred(2048)

	p := &plainPresenter{w: &out, errW: &errOut, stats: collector}
	p.printProgress()

	assert.Contains(t, errOut.String(), "progress: 2/4 files")
	assert.Contains(t, errOut.String(), "2.0 KiB/4.0 KiB")
}

func TestPlainPresenterSummary(t *testing.T) {
	collector := stats.NewCollector()
	collector.AddFilesCompleted(3)
	collector.AddBytesTransferred(3072)

	p := &plainPresenter{stats: collector}
	summary := p.Summary()
	assert.Contains(t, summary, "done ✓")
	assert.Contains(t, summary, "files 3")
	assert.Contains(t, summary, "errors 0")
}

func TestNewPresenter(t *testing.T) {
	collector := stats.NewCollector()

	_, ok := NewPresenter(Config{Stats: collector, Quiet: true}).(*quietPresenter)
	assert.True(t, ok)

	_, ok = NewPresenter(Config{Stats: collector}).(*plainPresenter)
	assert.True(t, ok)

	_, ok = NewPresenter(Config{Stats: collector, IsTTY: true, NoProgress: true}).(*plainPresenter)
	assert.True(t, ok)

	_, ok = NewPresenter(Config{Stats: collector, IsTTY: true}).(*hudPresenter)
	assert.True(t, ok)
}

func TestQuietPresenter(t *testing.T) {
	p := NewPresenter(Config{Stats: stats.NewCollector(), Quiet: true})
	events := make(chan Event, 2)
	events <- Event{Type: event.FileCompleted, Path: "x"}
	close(events)

	require.NoError(t, p.Run(events))
	assert.Empty(t, p.Summary())
}
