package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bamsammich/tally/internal/analysis"
	"github.com/bamsammich/tally/internal/event"
	"github.com/bamsammich/tally/internal/stats"
)

// ClientConfig configures a Client. Only Addr is required.
type ClientConfig struct {
	Addr        string
	DialTimeout time.Duration
	IdleTimeout time.Duration
	Limiter     *rate.Limiter // shared by every transfer; nil means unlimited
	Workers     int           // SendAll concurrency; defaults to 1
	Events      event.Emitter
	Stats       *stats.Collector
	Logger      *slog.Logger
}

// Client sends files to a tally server, one connection per file.
type Client struct {
	cfg    ClientConfig
	dialer net.Dialer
	log    *slog.Logger
}

// NewClient returns a client for cfg.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Client{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
		log:    cfg.Logger,
	}
}

// Send transfers the file at path and returns the server's analysis of it.
// The file is opened and sized before any connection is made, so a missing
// or oversized file fails without contacting the server. Cancelling ctx
// closes the connection.
func (c *Client) Send(ctx context.Context, path string) (analysis.Result, error) {
	res, n, err := c.send(ctx, path)
	if c.cfg.Stats != nil {
		c.cfg.Stats.AddBytesTransferred(n)
	}

	ev := event.Event{Path: path, Size: n}
	if err != nil {
		if c.cfg.Stats != nil {
			c.cfg.Stats.AddFilesFailed(1)
		}
		c.log.Debug("send failed", "file", path, "error", err)
		ev.Type = event.FileFailed
		ev.Error = err
		c.cfg.Events.Emit(ev)
		return analysis.Result{}, err
	}

	if c.cfg.Stats != nil {
		c.cfg.Stats.AddFilesCompleted(1)
	}
	ev.Type = event.FileCompleted
	ev.Total = n
	ev.Result = &res
	c.cfg.Events.Emit(ev)
	return res, nil
}

//nolint:revive // cognitive-complexity: linear client state machine
func (c *Client) send(ctx context.Context, path string) (analysis.Result, int64, error) {
	// Open
	f, err := os.Open(path)
	if err != nil {
		return analysis.Result{}, 0, newError(KindIO, StateOpen, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return analysis.Result{}, 0, newError(KindIO, StateOpen, err)
	}
	if info.IsDir() {
		return analysis.Result{}, 0, newError(KindIO, StateOpen, fmt.Errorf("%s: is a directory", path))
	}
	if info.Size() > math.MaxUint32 {
		return analysis.Result{}, 0, newError(KindProtocol, StateOpen,
			fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFrameTooLarge, path, info.Size(), uint32(math.MaxUint32)))
	}
	name := filepath.Base(path)
	if err := ValidateName(name); err != nil {
		return analysis.Result{}, 0, newError(KindProtocol, StateOpen, err)
	}
	size := uint32(info.Size()) //nolint:gosec // G115: bounded above

	// Connect
	raw, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return analysis.Result{}, 0, c.fail(ctx, StateConnect, KindConnection, err)
	}
	defer raw.Close()
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	defer stop()
	conn := withIdleTimeout(raw, c.cfg.IdleTimeout)

	c.cfg.Events.Emit(event.Event{Type: event.FileStarted, Path: path, Total: int64(size)})

	// SendName
	if err := WriteName(conn, name); err != nil {
		return analysis.Result{}, 0, c.fail(ctx, StateSendName, KindUnknown, err)
	}

	// SendSize
	if err := WriteSize(conn, size); err != nil {
		return analysis.Result{}, 0, c.fail(ctx, StateSendSize, KindUnknown, err)
	}

	// SendPayload
	progress := event.NewProgressWriter(c.cfg.Events, event.Event{Path: path, Total: int64(size)})
	src := io.LimitReader(newRateLimitedReader(ctx, localReader{f}, c.cfg.Limiter), int64(size))
	n, err := io.CopyBuffer(io.MultiWriter(conn, progress), src, make([]byte, ChunkSize))
	if err != nil {
		return analysis.Result{}, n, c.fail(ctx, StateSendPayload, KindUnknown, err)
	}
	if n != int64(size) {
		return analysis.Result{}, n, c.fail(ctx, StateSendPayload, KindProtocol,
			fmt.Errorf("%w: %s shrank to %d of %d bytes", ErrSizeMismatch, path, n, size))
	}

	// ReceiveResult
	res, err := ReadResult(conn)
	if err != nil {
		return analysis.Result{}, n, c.fail(ctx, StateReceiveResult, KindUnknown, err)
	}
	return res, n, nil
}

func (c *Client) fail(ctx context.Context, state State, kind Kind, err error) error {
	if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
		err = fmt.Errorf("%w: %w", cerr, err)
	}
	return newError(kind, state, err)
}

// localReader tags read errors of the file being sent, so they are not
// mistaken for connection failures.
type localReader struct{ r io.Reader }

func (l localReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", errLocalIO, err)
	}
	return n, err
}

// Outcome is the result of sending one file in a batch.
type Outcome struct {
	Path   string
	Result analysis.Result
	Err    error
}

// OK reports whether the file was sent and analyzed.
func (o Outcome) OK() bool { return o.Err == nil }

// SendAll sends paths concurrently, at most cfg.Workers at a time, and
// returns one Outcome per path in the order given. A failed file never stops
// the others.
func (c *Client) SendAll(ctx context.Context, paths []string) []Outcome {
	out := make([]Outcome, len(paths))

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, p := range paths {
		g.Go(func() error {
			res, err := c.Send(ctx, p)
			out[i] = Outcome{Path: p, Result: res, Err: err}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // per-file errors are carried in out

	return out
}

// CountOutcomes returns how many outcomes succeeded and failed.
func CountOutcomes(outcomes []Outcome) (ok, failed int) {
	for _, o := range outcomes {
		if o.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
