package ui

import "github.com/bamsammich/tally/internal/event"

// Event is re-exported so presenters read like the rest of the package.
type Event = event.Event

// Re-export event types for convenience.
const (
	SessionStarted = event.SessionStarted
	FileStarted    = event.FileStarted
	FileProgress   = event.FileProgress
	FileCompleted  = event.FileCompleted
	FileFailed     = event.FileFailed
	RecordFailed   = event.RecordFailed
)
