package ui

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/stats"
)

func TestHudPresenterFileCompleted(t *testing.T) {
	var out bytes.Buffer
	collector := stats.NewCollector()
	collector.SetTotals(2, 2048)

	p := &hudPresenter{w: &out, stats: collector}

	events := make(chan Event, 10)
	events <- Event{Type: event.FileStarted, Path: "docs/notes.txt", Size: 14}
	events <- Event{Type: event.FileCompleted, Path: "docs/notes.txt", Size: 14, Result: testResult("notes.txt")}
	close(events)

	require.NoError(t, p.Run(events))

	s := out.String()
	assert.Contains(t, s, "notes.txt")
	assert.Contains(t, s, "✓")
	assert.Contains(t, s, "words 3")
	assert.Empty(t, p.inFlight)
}

func TestHudPresenterFileFailed(t *testing.T) {
	var out bytes.Buffer
	p := &hudPresenter{w: &out, stats: stats.NewCollector()}

	events := make(chan Event, 5)
	events <- Event{Type: event.FileStarted, Path: "bad.txt"}
	events <- Event{Type: event.FileFailed, Path: "bad.txt", Error: fmt.Errorf("dial: %w", assert.AnError)}
	close(events)

	require.NoError(t, p.Run(events))
	assert.Contains(t, out.String(), "✗")
	assert.Contains(t, out.String(), "bad.txt")
	assert.Contains(t, out.String(), assert.AnError.Error())
}

func TestHudPresenterTracksInFlight(t *testing.T) {
	var out bytes.Buffer
	p := &hudPresenter{w: &out, stats: stats.NewCollector(), inFlight: make(map[string]int)}

	p.handleEvent(Event{Type: event.FileStarted, Path: "a.txt"})
	p.handleEvent(Event{Type: event.FileStarted, Path: "b.txt"})
	p.handleEvent(Event{Type: event.FileProgress, Path: "a.txt", Percent: 40})
	assert.Equal(t, map[string]int{"a.txt": 40, "b.txt": 0}, p.inFlight)

	p.drawHUD()
	assert.Contains(t, out.String(), "2 in flight")
}

func TestHudPresenterDrawAndClear(t *testing.T) {
	var out bytes.Buffer
	collector := stats.NewCollector()
	collector.SetTotals(4, 4096)
	collector.AddBytesTransferred(2048)
	collector.AddFilesCompleted(2)

	p := &hudPresenter{w: &out, stats: collector, inFlight: make(map[string]int)}
	p.drawHUD()

	hud := out.String()
	assert.Contains(t, hud, " 50%")
	assert.Contains(t, hud, ProgressBar(0.5, progressBarWidth))
	assert.Contains(t, hud, "2 / 4 files")
	assert.True(t, p.hudDrawn)

	p.clearHUD()
	assert.False(t, p.hudDrawn)
	assert.True(t, strings.HasSuffix(out.String(), "\033[1A\033[J"))

	// A second clear is a no-op.
	n := out.Len()
	p.clearHUD()
	assert.Equal(t, n, out.Len())
}

func TestStyledPath(t *testing.T) {
	assert.Contains(t, styledPath("a/b/c.txt"), "c.txt")
	assert.Contains(t, styledPath("a/b/c.txt"), "a/b/")
	assert.Contains(t, styledPath("c.txt"), "c.txt")
}
