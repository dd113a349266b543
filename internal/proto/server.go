package proto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is the TCP port the server listens on unless told otherwise.
const DefaultPort = 8888

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ServerConfig configures a Server.
type ServerConfig struct {
	ListenAddr string
	Session    SessionConfig
	Logger     *slog.Logger

	// DrainTimeout, when positive, bounds how long Serve waits for in-flight
	// sessions after Stop; connections still open afterwards are closed.
	// Zero waits for every session to finish on its own.
	DrainTimeout time.Duration
}

// Server accepts connections and runs one Session per connection.
type Server struct {
	listener net.Listener
	cfg      ServerConfig
	log      *slog.Logger

	stopOnce sync.Once
	stopped  atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer binds cfg.ListenAddr. Call Serve to start accepting connections.
func NewServer(cfg ServerConfig) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	return NewServerListener(ln, cfg), nil
}

// NewServerListener returns a server accepting from ln, which it takes
// ownership of.
func NewServerListener(ln net.Listener, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	return &Server{
		listener: ln,
		cfg:      cfg,
		log:      cfg.Logger,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Addr returns the listener's address (useful when listening on :0).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Active returns the number of connections currently being served.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener so Serve stops accepting. Sessions already running
// are not interrupted. Safe to call more than once and from any goroutine.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.listener.Close()
	})
}

// Serve accepts connections until Stop is called or ctx is cancelled, which
// is equivalent. It returns once the accept loop has exited and every session
// has finished.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("tally server listening", "addr", s.Addr())

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	// Sessions outlive ctx: cancelling it only stops the accept loop.
	sessionCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	var backoff time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			backoff = nextBackoff(backoff)
			s.log.Error("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.track(conn)
		wg.Go(func() {
			defer s.untrack(conn)
			sess := NewSession(conn, s.cfg.Session)
			sess.Run(sessionCtx) //nolint:errcheck // the session logs its own failure
		})
	}

	s.drain(&wg)
	s.log.Info("tally server stopped")
	return nil
}

func (s *Server) drain(wg *sync.WaitGroup) {
	if active := s.Active(); active > 0 {
		s.log.Info("waiting for sessions", "active", active)
	}
	if s.cfg.DrainTimeout <= 0 {
		wg.Wait()
		return
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout):
		s.log.Warn("drain timeout, closing connections", "active", s.Active())
		s.closeConns()
		<-done
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(d*2, maxAcceptBackoff)
}
