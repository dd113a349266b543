package event

import (
	"time"

	"github.com/bamsammich/tally/internal/analysis"
)

// Type identifies the kind of event.
type Type int

const (
	SessionStarted Type = iota + 1
	FileStarted
	FileProgress
	FileCompleted
	FileFailed
	RecordFailed
)

var typeNames = [...]string{
	SessionStarted: "SessionStarted",
	FileStarted:    "FileStarted",
	FileProgress:   "FileProgress",
	FileCompleted:  "FileCompleted",
	FileFailed:     "FileFailed",
	RecordFailed:   "RecordFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from a transfer, on either side
// of the connection.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // file name as sent on the wire, or local path on the client
	Session   string // server session id; empty on the client
	Remote    string
	Size      int64 // bytes transferred so far
	Total     int64 // declared payload size
	Percent   int   // FileProgress only, multiple of 10
	Result    *analysis.Result
	Error     error
}

// Emitter receives events. A nil Emitter discards them.
type Emitter func(Event)

// Emit sends ev to e, stamping the time if unset.
func (e Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e(ev)
}

// Chan returns an Emitter that forwards into ch. Sends block, so the
// consumer must keep draining ch until the producers are done.
func Chan(ch chan<- Event) Emitter {
	return func(ev Event) { ch <- ev }
}
