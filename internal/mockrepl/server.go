// Package mockrepl is a small in-process stand-in for the streamline
// evaluation service. It serves the same routes as the real service, records
// every request, and tracks which module names are defined so the remote
// define/undefine lifecycle can be observed in tests and local demos.
package mockrepl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kingrea/streamline/internal/remote"
)

const (
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20
	// DefaultTimeout bounds handler reads and writes.
	DefaultTimeout = 15 * time.Second
)

// Logger matches the Printf-style loggers used across the repo.
type Logger interface {
	Printf(format string, args ...any)
}

// Evaluator produces the reply text for a send_code request.
type Evaluator func(src string) string

// Request is one recorded call.
type Request struct {
	Route     string
	RequestID string
	Body      []byte
	Received  time.Time
}

// BlockRange is an inclusive block range.
type BlockRange struct {
	Start int
	Stop  int
}

// Covers reports whether other lies entirely inside r.
func (r BlockRange) Covers(other BlockRange) bool {
	return other.Start >= r.Start && other.Stop <= r.Stop
}

// Server wraps the HTTP listener and the fake service state.
type Server struct {
	addr         string
	maxBodyBytes int64
	logger       Logger
	evaluator    Evaluator
	delay        time.Duration
	clock        func() time.Time

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	requests []Request
	defined  map[string]struct{}
	loaded   *BlockRange
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvaluator replaces the default send_code reply.
func WithEvaluator(fn Evaluator) Option {
	return func(s *Server) {
		if fn != nil {
			s.evaluator = fn
		}
	}
}

// WithDelay makes every handler sleep before replying. Tests use it to force
// client timeouts.
func WithDelay(d time.Duration) Option {
	return func(s *Server) {
		s.delay = d
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a server that will bind addr. Use port 0 for a random port.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       nopLogger{},
		evaluator:    defaultEvaluator,
		clock:        func() time.Time { return time.Now().UTC() },
		defined:      map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the route table without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/"+remote.RouteSendCode, s.handleSendCode)
	mux.HandleFunc("/"+remote.RouteUndefineModule, s.handleUndefine)
	mux.HandleFunc("/"+remote.RouteLoadBlocks, s.handleLoadBlocks)
	mux.HandleFunc("/"+remote.RouteExecuteModule, s.handleExecute)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("mockrepl: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("mockrepl: server already started")
	}
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("mockrepl: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  DefaultTimeout,
		WriteTimeout: DefaultTimeout + s.delay,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("mockrepl: serve error: %v", err)
		}
	}()
	s.logger.Printf("mockrepl: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	return server.Shutdown(ctx)
}

// Addr returns the bound address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HostPort splits Addr into host and numeric port.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "", 0
	}
	n, _ := strconv.Atoi(port)
	return host, n
}

// Requests returns a copy of every request recorded so far.
func (s *Server) Requests() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Request(nil), s.requests...)
}

// Defined reports whether name is currently defined.
func (s *Server) Defined(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.defined[name]
	return ok
}

// Loaded returns the block range currently loaded, if any.
func (s *Server) Loaded() (BlockRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loaded == nil {
		return BlockRange{}, false
	}
	return *s.loaded, true
}

// Reset clears recorded requests and service state.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
	s.defined = map[string]struct{}{}
	s.loaded = nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
