package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/bamsammich/tally/internal/stats"
)

// hudPresenter provides a TTY display with a scrolling feed of finished files
// and a one-line HUD that redraws in place below it.
type hudPresenter struct {
	w     io.Writer
	stats stats.ReadTicker

	hudDrawn    bool
	inFlight    map[string]int // path -> last reported percent
	lastHUDDraw time.Time
}

const (
	progressBarWidth = 20
	hudMinInterval   = 50 * time.Millisecond // don't redraw faster than this
)

func (p *hudPresenter) Run(events <-chan Event) error {
	p.inFlight = make(map[string]int)

	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	// Redraw ticker for when no events are flowing (e.g., one large file).
	redrawTicker := time.NewTicker(100 * time.Millisecond)
	defer redrawTicker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearHUD()
				return nil
			}
			p.handleEvent(ev)
			p.maybeDrawHUD()

		case <-redrawTicker.C:
			p.drawHUD()

		case <-secTicker.C:
			p.stats.Tick()
		}
	}
}

func (p *hudPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case FileStarted:
		p.inFlight[ev.Path] = 0

	case FileProgress:
		p.inFlight[ev.Path] = ev.Percent

	case FileCompleted:
		delete(p.inFlight, ev.Path)
		p.clearHUD()
		p.printFileCompleted(ev)
		p.drawHUD()

	case FileFailed:
		delete(p.inFlight, ev.Path)
		p.clearHUD()
		p.printFileFailed(ev)
		p.drawHUD()
	}
}

func (p *hudPresenter) printFileCompleted(ev Event) {
	counts := ""
	if ev.Result != nil {
		counts = FormatCounts(ev.Result.Counts())
	}
	fmt.Fprintf(p.w, "%s  %s  %s  %s\n",
		styleIconDone.Render("✓"),
		styledPath(ev.Path),
		styleCounts.Render(counts),
		styleFileSize.Render(FormatBytes(ev.Size)),
	)
}

func (p *hudPresenter) printFileFailed(ev Event) {
	errMsg := "error"
	if ev.Error != nil {
		errMsg = ev.Error.Error()
	}
	fmt.Fprintf(p.w, "%s  %s  %s\n",
		styleIconFailed.Render("✗"),
		styledPath(ev.Path),
		styleError.Render(errMsg),
	)
}

// maybeDrawHUD redraws the HUD if enough time has passed since the last draw.
func (p *hudPresenter) maybeDrawHUD() {
	if time.Since(p.lastHUDDraw) < hudMinInterval {
		return
	}
	p.drawHUD()
}

func (p *hudPresenter) drawHUD() {
	snap := p.stats.Snapshot()
	p.clearHUD()

	var pct float64
	if snap.BytesTotal > 0 {
		pct = float64(snap.BytesTransferred) / float64(snap.BytesTotal)
	}
	done := snap.FilesCompleted + snap.FilesFailed

	line := fmt.Sprintf(" %3.0f%%  %s   %s / %s files   %s / %s   %s",
		pct*100, ProgressBar(pct, progressBarWidth),
		FormatCount(done), FormatCount(snap.FilesTotal),
		FormatBytes(snap.BytesTransferred), FormatBytes(snap.BytesTotal),
		FormatRate(p.stats.RollingSpeed(5)),
	)
	if n := len(p.inFlight); n > 0 {
		line += styleWarning.Render(fmt.Sprintf("   %d in flight", n))
	}
	fmt.Fprintln(p.w, line)

	p.hudDrawn = true
	p.lastHUDDraw = time.Now()
}

func (p *hudPresenter) clearHUD() {
	if !p.hudDrawn {
		return
	}
	// Move cursor up one line and clear to end of screen.
	fmt.Fprint(p.w, "\033[1A\033[J")
	p.hudDrawn = false
}

func (p *hudPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

// styledPath returns the path with the directory portion dimmed so the
// file name stands out.
func styledPath(path string) string {
	dir := filepath.Dir(path)
	base := styleFileName.Render(filepath.Base(path))
	if dir == "." || dir == "" {
		return base
	}
	return styleFileDir.Render(dir+string(filepath.Separator)) + base
}
