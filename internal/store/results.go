package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bamsammich/tally/internal/analysis"
)

// LogFileName is the append-only result log inside the results directory.
const LogFileName = "results.log"

// Entry is everything recorded about one analyzed file.
type Entry struct {
	Result     analysis.Result
	Wire       []byte // exact message bytes sent to the client
	StoredName string
	Size       int64
	Digest     string
	Session    string
	Remote     string
}

// Recorder durably records analysis results. Implementations must be safe
// for concurrent use and report failures as errors.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// LogRecord is one line of the result log.
type LogRecord struct {
	analysis.Result
	StoredName string `json:"storedName"`
	Size       int64  `json:"size"`
	Digest     string `json:"blake3"`
	Session    string `json:"session,omitempty"`
	Remote     string `json:"remote,omitempty"`
	Artifact   string `json:"artifact"`
}

// ResultLog records each result as a line in results.log plus one artifact
// file holding the wire form of the result.
type ResultLog struct {
	dir string

	mu sync.Mutex // guards appends to f
	f  *os.File
}

var _ Recorder = (*ResultLog)(nil)

// OpenResultLog creates dir if needed and opens its log for appending.
func OpenResultLog(dir string) (*ResultLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(dir, LogFileName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open result log: %w", err)
	}
	return &ResultLog{dir: dir, f: f}, nil
}

// Path returns the log file path.
func (l *ResultLog) Path() string { return filepath.Join(l.dir, LogFileName) }

// Record writes the artifact file and then appends the log line. The lock is
// held only for the append; artifacts are written independently.
func (l *ResultLog) Record(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wire := e.Wire
	if len(wire) == 0 {
		var err error
		if wire, err = json.Marshal(e.Result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	}

	artifact, err := l.writeArtifact(e.Result, wire)
	if err != nil {
		return err
	}

	line, err := json.Marshal(LogRecord{
		Result:     e.Result,
		StoredName: e.StoredName,
		Size:       e.Size,
		Digest:     e.Digest,
		Session:    e.Session,
		Remote:     e.Remote,
		Artifact:   artifact,
	})
	if err != nil {
		return fmt.Errorf("encode log record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("append result log: %w", err)
	}
	return nil
}

func (l *ResultLog) writeArtifact(r analysis.Result, wire []byte) (string, error) {
	stem, _ := splitExt(SafeName(r.FileName))
	stem, _ = fitName(stem, "", artifactNameReserve)
	stamp := r.AnalyzedAt.Format(timestampLayout)

	for i := range maxCollisionSuffix {
		name := stem + "_" + stamp + "_result.json"
		if i > 0 {
			name = stem + "_" + stamp + "-" + strconv.Itoa(i) + "_result.json"
		}
		path := filepath.Join(l.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create artifact: %w", err)
		}
		if _, err := f.Write(wire); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write artifact %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close artifact %s: %w", name, err)
		}
		return name, nil
	}
	return "", fmt.Errorf("artifact for %s: no free name", r.FileName)
}

// Close closes the log file.
func (l *ResultLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ReadLog parses a result log written by ResultLog.
func ReadLog(path string) ([]LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []LogRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for lineNo := 1; sc.Scan(); lineNo++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec LogRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return records, nil
}

// Since filters records analyzed at or after t.
func Since(records []LogRecord, t time.Time) []LogRecord {
	var out []LogRecord
	for _, r := range records {
		if !r.AnalyzedAt.Before(t) {
			out = append(out, r)
		}
	}
	return out
}
