package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks transfer statistics using lock-free atomic counters.
// The server counts sessions; the client counts files. Both count bytes.
type Collector struct {
	sessionsAccepted atomic.Int64
	sessionsActive   atomic.Int64
	filesCompleted   atomic.Int64
	filesFailed      atomic.Int64
	bytesTransferred atomic.Int64
	recordsWritten   atomic.Int64
	recordsFailed    atomic.Int64
	filesTotal       atomic.Int64
	bytesTotal       atomic.Int64
	startTime        time.Time

	// Ring buffer, written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int // how many samples have been written (capped at ringSize)
	lastBytes  int64
}

// Reader is the read side of a Collector, as used by presenters.
type Reader interface {
	Snapshot() Snapshot
	RollingSpeed(seconds int) float64
}

// ReadTicker is a Reader that is also advanced once per second.
type ReadTicker interface {
	Reader
	Tick()
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records what the client is about to send.
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.bytesTotal.Store(bytes)
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	SessionsAccepted int64
	SessionsActive   int64
	FilesCompleted   int64
	FilesFailed      int64
	BytesTransferred int64
	RecordsWritten   int64
	RecordsFailed    int64
	FilesTotal       int64
	BytesTotal       int64
	Elapsed          time.Duration
}

// SessionStarted counts an accepted connection and marks it active.
func (c *Collector) SessionStarted() {
	c.sessionsAccepted.Add(1)
	c.sessionsActive.Add(1)
}

// SessionEnded marks a session finished; ok selects the completed or failed counter.
func (c *Collector) SessionEnded(ok bool) {
	c.sessionsActive.Add(-1)
	if ok {
		c.filesCompleted.Add(1)
	} else {
		c.filesFailed.Add(1)
	}
}

func (c *Collector) AddFilesCompleted(n int64)   { c.filesCompleted.Add(n) }
func (c *Collector) AddFilesFailed(n int64)      { c.filesFailed.Add(n) }
func (c *Collector) AddBytesTransferred(n int64) { c.bytesTransferred.Add(n) }
func (c *Collector) AddRecordsWritten(n int64)   { c.recordsWritten.Add(n) }
func (c *Collector) AddRecordsFailed(n int64)    { c.recordsFailed.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		SessionsAccepted: c.sessionsAccepted.Load(),
		SessionsActive:   c.sessionsActive.Load(),
		FilesCompleted:   c.filesCompleted.Load(),
		FilesFailed:      c.filesFailed.Load(),
		BytesTransferred: c.bytesTransferred.Load(),
		RecordsWritten:   c.recordsWritten.Load(),
		RecordsFailed:    c.recordsFailed.Load(),
		FilesTotal:       c.filesTotal.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Tick snapshots the byte delta into the ring buffer. Called 1/sec by the presenter.
func (c *Collector) Tick() {
	current := c.bytesTransferred.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"sessions=%d active=%d completed=%d failed=%d bytes=%d recorded=%d record_failures=%d",
		s.SessionsAccepted, s.SessionsActive, s.FilesCompleted, s.FilesFailed,
		s.BytesTransferred, s.RecordsWritten, s.RecordsFailed,
	)
}
