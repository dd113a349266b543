package proto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/tally/internal/analysis"
	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/stats"
	"github.com/bamsammich/tally/internal/store"
)

// AnalyzeFunc computes the statistics of a received file's content.
type AnalyzeFunc func(r io.Reader) (analysis.Counts, error)

// SessionConfig holds what a session needs besides its connection. Files is
// required; everything else is optional.
type SessionConfig struct {
	Files    *store.FileStore
	Recorder store.Recorder
	Analyze  AnalyzeFunc // defaults to analysis.CountReader
	Stats    *stats.Collector
	Events   event.Emitter
	Logger   *slog.Logger
	Now      func() time.Time

	// IdleTimeout bounds how long any single read or write may stall.
	// Zero disables it.
	IdleTimeout time.Duration
}

// Session handles one connection: it receives one file, analyzes it, records
// the result and sends the result back.
type Session struct {
	id     string
	conn   net.Conn
	remote string
	cfg    SessionConfig
	log    *slog.Logger

	name  string
	total int64
}

// NewSession returns a session that owns conn. Run closes it.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	if cfg.Analyze == nil {
		cfg.Analyze = analysis.CountReader
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	id := uuid.New().String()
	remote := conn.RemoteAddr().String()
	return &Session{
		id:     id,
		conn:   conn,
		remote: remote,
		cfg:    cfg,
		log:    cfg.Logger.With("session", id, "remote", remote),
	}
}

// ID returns the session's unique id, as used in logs and recorded entries.
func (s *Session) ID() string { return s.id }

// Run drives the session to completion and closes the connection on every
// path. A failed session returns a *Error naming the state it failed in.
//
// Cancelling ctx closes the connection. A recorder failure does not fail the
// session: it is logged and the result is still sent.
func (s *Session) Run(ctx context.Context) (analysis.Result, error) {
	defer s.conn.Close()
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	if s.cfg.Stats != nil {
		s.cfg.Stats.SessionStarted()
	}
	s.emit(event.Event{Type: event.SessionStarted})
	s.log.Debug("session started")

	res, err := s.run(ctx)

	if s.cfg.Stats != nil {
		s.cfg.Stats.SessionEnded(err == nil)
	}
	if err != nil {
		var te *Error
		errors.As(err, &te)
		s.log.Warn("session failed", "state", te.State, "kind", te.Kind, "file", s.name, "error", te.Err)
		s.emit(event.Event{Type: event.FileFailed, Error: err})
		return analysis.Result{}, err
	}

	s.log.Info("file analyzed",
		"file", res.FileName,
		"size", s.total,
		"lines", res.LineCount,
		"words", res.WordCount,
		"chars", res.CharCount,
	)
	s.emit(event.Event{Type: event.FileCompleted, Size: s.total, Result: &res})
	return res, nil
}

//nolint:revive // cognitive-complexity: linear state machine, one early return per state
func (s *Session) run(ctx context.Context) (analysis.Result, error) {
	conn := withIdleTimeout(s.conn, s.cfg.IdleTimeout)
	// ReadName takes bytes one at a time; the buffer keeps that off the socket.
	r := bufio.NewReaderSize(conn, ChunkSize)

	// AwaitName
	name, err := ReadName(r)
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateAwaitName, KindUnknown, err)
	}
	s.name = name

	// AwaitSize
	size, err := ReadSize(r)
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateAwaitSize, KindUnknown, err)
	}
	s.total = int64(size)
	s.log.Debug("receiving file", "file", name, "size", size)
	s.emit(event.Event{Type: event.FileStarted})

	// ReceivePayload
	upload, err := s.cfg.Files.Create(name, int64(size))
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateReceivePayload, KindIO, err)
	}
	progress := event.NewProgressWriter(s.cfg.Events, s.baseEvent())
	n, err := CopyPayload(io.MultiWriter(upload, progress), r, size)
	if s.cfg.Stats != nil {
		s.cfg.Stats.AddBytesTransferred(n)
	}
	if err != nil {
		upload.Abort()
		return analysis.Result{}, s.fail(ctx, StateReceivePayload, KindUnknown, err)
	}
	stored, err := upload.Commit()
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateReceivePayload, KindIO, err)
	}

	// Analyze
	content, err := s.cfg.Files.Open(stored)
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateAnalyze, KindIO, err)
	}
	counts, err := s.cfg.Analyze(content)
	content.Close()
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateAnalyze, KindAnalysis, err)
	}
	res := analysis.New(name, counts, s.cfg.Now())
	wire, err := EncodeResult(res)
	if err != nil {
		return analysis.Result{}, s.fail(ctx, StateAnalyze, KindAnalysis, err)
	}

	// Persist
	s.record(ctx, store.Entry{
		Result:     res,
		Wire:       wire,
		StoredName: stored.Name,
		Size:       stored.Size,
		Digest:     stored.Digest,
		Session:    s.id,
		Remote:     s.remote,
	})

	// SendResult
	if err := WriteMessage(conn, wire); err != nil {
		return analysis.Result{}, s.fail(ctx, StateSendResult, KindUnknown, err)
	}
	return res, nil
}

// record hands the entry to the recorder. The write is not abandoned when
// ctx is cancelled mid-session: the file is already stored.
func (s *Session) record(ctx context.Context, e store.Entry) {
	if s.cfg.Recorder == nil {
		return
	}
	if err := s.cfg.Recorder.Record(context.WithoutCancel(ctx), e); err != nil {
		s.log.Error("record result", "state", StatePersist, "file", e.Result.FileName, "error", err)
		if s.cfg.Stats != nil {
			s.cfg.Stats.AddRecordsFailed(1)
		}
		s.emit(event.Event{Type: event.RecordFailed, Error: err})
		return
	}
	if s.cfg.Stats != nil {
		s.cfg.Stats.AddRecordsWritten(1)
	}
}

// fail tags err with its state. When ctx was cancelled the connection was
// closed underneath the session, so the cancellation is reported as the cause.
func (s *Session) fail(ctx context.Context, state State, kind Kind, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		err = fmt.Errorf("%w: %w", cerr, err)
	}
	return newError(kind, state, err)
}

func (s *Session) baseEvent() event.Event {
	return event.Event{
		Path:    s.name,
		Session: s.id,
		Remote:  s.remote,
		Total:   s.total,
	}
}

func (s *Session) emit(ev event.Event) {
	if s.cfg.Events == nil {
		return
	}
	base := s.baseEvent()
	base.Type = ev.Type
	base.Size = ev.Size
	base.Result = ev.Result
	base.Error = ev.Error
	s.cfg.Events.Emit(base)
}
