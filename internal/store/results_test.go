package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/analysis"
	"github.com/bamsammich/tally/internal/store"
)

func testEntry(name string, at time.Time) store.Entry {
	r := analysis.New(name, analysis.Counts{LineCount: 1, WordCount: 2, CharCount: 12}, at)
	wire, _ := json.Marshal(r) //nolint:errcheck // plain struct
	return store.Entry{
		Result:     r,
		Wire:       wire,
		StoredName: name + ".stored",
		Size:       12,
		Digest:     "abc123",
		Session:    "s-" + name,
		Remote:     "127.0.0.1:5000",
	}
}

func TestResultLogRecord(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log, err := store.OpenResultLog(dir)
	require.NoError(t, err)
	defer log.Close()

	at := time.Date(2026, 10, 17, 9, 30, 15, 0, time.UTC)
	e := testEntry("hello.txt", at)
	require.NoError(t, log.Record(context.Background(), e))

	records, err := store.ReadLog(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, e.Result, rec.Result)
	assert.Equal(t, "hello.txt.stored", rec.StoredName)
	assert.Equal(t, "abc123", rec.Digest)
	assert.Equal(t, "hello_20261017_093015_result.json", rec.Artifact)

	// The artifact holds exactly the wire bytes.
	artifact, err := os.ReadFile(filepath.Join(dir, rec.Artifact))
	require.NoError(t, err)
	assert.Equal(t, e.Wire, artifact)
}

func TestResultLogLongName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log, err := store.OpenResultLog(dir)
	require.NoError(t, err)
	defer log.Close()

	name := strings.Repeat("n", 1000) + ".txt"
	at := time.Date(2026, 10, 17, 9, 30, 15, 0, time.UTC)
	require.NoError(t, log.Record(context.Background(), testEntry(name, at)))
	require.NoError(t, log.Record(context.Background(), testEntry(name, at)))

	records, err := store.ReadLog(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, name, rec.FileName, "the full name is kept in the result")
		assert.LessOrEqual(t, len(rec.Artifact), 255)
		assert.FileExists(t, filepath.Join(dir, rec.Artifact))
	}
	assert.NotEqual(t, records[0].Artifact, records[1].Artifact)
}

func TestResultLogArtifactCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log, err := store.OpenResultLog(dir)
	require.NoError(t, err)
	defer log.Close()

	at := time.Date(2026, 10, 17, 9, 30, 15, 0, time.UTC)
	require.NoError(t, log.Record(context.Background(), testEntry("same.txt", at)))
	require.NoError(t, log.Record(context.Background(), testEntry("same.txt", at)))

	records, err := store.ReadLog(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].Artifact, records[1].Artifact)
}

func TestResultLogWireFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log, err := store.OpenResultLog(dir)
	require.NoError(t, err)
	defer log.Close()

	e := testEntry("nowire.txt", time.Now())
	e.Wire = nil
	require.NoError(t, log.Record(context.Background(), e))

	records, err := store.ReadLog(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)

	data, err := os.ReadFile(filepath.Join(dir, records[0].Artifact))
	require.NoError(t, err)
	var got analysis.Result
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, e.Result.FileName, got.FileName)
}

func TestResultLogConcurrent(t *testing.T) {
	t.Parallel()

	log, err := store.OpenResultLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	const n = 50
	at := time.Now()
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			assert.NoError(t, log.Record(context.Background(), testEntry(fmt.Sprintf("f%02d.txt", i), at)))
		})
	}
	wg.Wait()

	records, err := store.ReadLog(log.Path())
	require.NoError(t, err)
	require.Len(t, records, n)

	seen := make(map[string]int)
	for _, r := range records {
		seen[r.FileName]++
	}
	assert.Len(t, seen, n)
	for name, count := range seen {
		assert.Equal(t, 1, count, name)
	}
}

func TestResultLogCanceledContext(t *testing.T) {
	t.Parallel()

	log, err := store.OpenResultLog(t.TempDir())
	require.NoError(t, err)
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, log.Record(ctx, testEntry("x.txt", time.Now())), context.Canceled)
}

func TestResultLogUnwritableDir(t *testing.T) {
	t.Parallel()

	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	dir := t.TempDir()
	log, err := store.OpenResultLog(dir)
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { os.Chmod(dir, 0o755) }) //nolint:errcheck // test cleanup

	err = log.Record(context.Background(), testEntry("x.txt", time.Now()))
	assert.Error(t, err)
}

func TestReadLogMissing(t *testing.T) {
	t.Parallel()

	_, err := store.ReadLog(filepath.Join(t.TempDir(), store.LogFileName))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSince(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []store.LogRecord{
		{Result: analysis.Result{FileName: "old", AnalyzedAt: base}},
		{Result: analysis.Result{FileName: "new", AnalyzedAt: base.Add(time.Hour)}},
	}
	got := store.Since(records, base.Add(time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].FileName)
}

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, store.Entry) error { return f.err }

type countingRecorder struct {
	mu sync.Mutex
	n  int
}

func (c *countingRecorder) Record(context.Context, store.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func TestMultiRecordsAllAndJoinsErrors(t *testing.T) {
	t.Parallel()

	errA := errors.New("disk full")
	counter := &countingRecorder{}
	m := store.Multi(failingRecorder{err: errA}, counter)

	err := m.Record(context.Background(), testEntry("x.txt", time.Now()))
	require.ErrorIs(t, err, errA)
	assert.Equal(t, 1, counter.n)

	single := store.Multi(counter)
	assert.Same(t, counter, single)
}
