package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/tally/internal/stats"
)

// plainPresenter outputs one line per finished file to stdout, and periodic
// progress to stderr when not a TTY.
type plainPresenter struct {
	w     io.Writer
	errW  io.Writer
	stats stats.ReadTicker
}

const plainProgressEvery = 5 // seconds

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	ticks := 0

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			ticks++
			if ticks%plainProgressEvery == 0 {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case FileCompleted:
		if ev.Result == nil {
			fmt.Fprintf(p.w, "%s  %s\n", ev.Path, FormatBytes(ev.Size))
			return
		}
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatCounts(ev.Result.Counts()), FormatBytes(ev.Size))
	case FileFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  failed: %s\n", ev.Path, errMsg)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	done := snap.FilesCompleted + snap.FilesFailed
	speed := p.stats.RollingSpeed(plainProgressEvery)
	if snap.FilesTotal > 0 {
		fmt.Fprintf(p.errW, "progress: %s/%s files %s/%s %s\n",
			FormatCount(done), FormatCount(snap.FilesTotal),
			FormatBytes(snap.BytesTransferred), FormatBytes(snap.BytesTotal),
			FormatRate(speed),
		)
		return
	}
	fmt.Fprintf(p.errW, "progress: %s files %s sent %s\n",
		FormatCount(done), FormatBytes(snap.BytesTransferred), FormatRate(speed))
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
