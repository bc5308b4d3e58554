package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/apaul10-dot/Project-Alpha/internal/pages"
	"github.com/apaul10-dot/Project-Alpha/internal/wire"
)

var (
	// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
	ErrServerClosed = errors.New("server closed")

	// ErrListenerFailure wraps bind and accept errors that stop the server.
	ErrListenerFailure = errors.New("listener failure")
)

const maxAcceptDelay = time.Second

// Server accepts raw TCP connections, parses one HTTP/1.1 request from each,
// and dispatches it. Every connection is served on its own goroutine so open
// event streams never block new accepts.
type Server struct {
	cfg     Config
	logger  *zap.Logger
	hub     *Hub
	metrics *Metrics
	router  *Router
	pages   PageProvider

	profiles *ProfileStore
	settings *Settings

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	listener     net.Listener
	conns        map[net.Conn]struct{}
	shuttingDown bool
	wg           sync.WaitGroup
}

// Option customizes a Server.
type Option func(*Server)

// WithPages sets the provider for the chat, connect, profile and settings
// pages and for /assets/.
func WithPages(p PageProvider) Option {
	return func(s *Server) {
		s.pages = p
	}
}

// WithHub makes the server publish to and stream from h.
func WithHub(h *Hub) Option {
	return func(s *Server) {
		s.hub = h
	}
}

// WithMetrics records server counters in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer returns a Server for cfg. Without WithPages it serves the built-in
// pages and cfg.AssetsDir.
func NewServer(cfg Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = sanitizeConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.hub == nil {
		s.hub = NewHub(logger,
			WithHistoryLimit(cfg.HistoryLimit),
			WithSubscriberBuffer(cfg.SubscriberBuffer),
			WithHubMetrics(s.metrics))
	}
	s.profiles = NewProfileStore()
	s.settings = NewSettings()

	if s.pages == nil {
		p, err := pages.New(pages.WithURL(cfg.PublicURL()), pages.WithAssetsDir(cfg.AssetsDir))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("loading pages: %w", err)
		}
		s.pages = p
	}

	s.router = SetupRoutes(&handlers{
		hub:       s.hub,
		pages:     s.pages,
		profiles:  s.profiles,
		settings:  s.settings,
		metrics:   s.metrics,
		logger:    logger,
		heartbeat: cfg.HeartbeatInterval,
	})
	return s, nil
}

// Profiles returns the profiles phones have saved.
func (s *Server) Profiles() *ProfileStore {
	return s.profiles
}

// Settings returns the settings phones have saved.
func (s *Server) Settings() *Settings {
	return s.settings
}

// Hub returns the hub the server broadcasts through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the listener address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on the configured port and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Port)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListenerFailure, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called or accepting fails
// permanently. Temporary accept errors are retried with backoff.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()))

	var delay time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = nextAcceptDelay(delay)
				s.logger.Warn("Accept error, retrying", zap.Duration("delay", delay), zap.Error(err))
				time.Sleep(delay)
				continue
			}
			s.logger.Error("Accept failed", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrListenerFailure, err)
		}
		delay = 0

		if !s.trackConn(rwc) {
			_ = rwc.Close()
			continue
		}
		go s.serveConn(rwc)
	}
}

func nextAcceptDelay(delay time.Duration) time.Duration {
	if delay == 0 {
		return 5 * time.Millisecond
	}
	delay *= 2
	if delay > maxAcceptDelay {
		delay = maxAcceptDelay
	}
	return delay
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}

// trackConn records rwc and counts it in the wait group. It fails once
// shutdown has started.
func (s *Server) trackConn(rwc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.conns[rwc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(rwc net.Conn) {
	s.mu.Lock()
	delete(s.conns, rwc)
	s.mu.Unlock()
	s.wg.Done()
}

// serveConn handles exactly one request and closes the connection, unless the
// handler keeps it for an event stream, in which case it is closed once the
// stream ends.
func (s *Server) serveConn(rwc net.Conn) {
	addr := rwc.RemoteAddr().String()
	defer s.untrackConn(rwc)
	defer func() {
		if err := rwc.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("Error closing connection", zap.String("addr", addr), zap.Error(err))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in connection handler",
				zap.String("addr", addr), zap.Any("panic", r))
		}
	}()

	s.metrics.incr(metricConnections, 1)

	if s.cfg.ReadTimeout > 0 {
		_ = rwc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}

	br := bufio.NewReader(rwc)
	rw := wire.NewResponseWriter(rwc, wire.WithWriteTimeout(s.cfg.WriteTimeout))

	req, err := wire.ParseRequest(br, wire.WithMaxBodyBytes(s.cfg.MaxBodyBytes))
	switch {
	case errors.Is(err, wire.ErrBodyTooLarge):
		s.metrics.incr(metricRequestsTooLarge, 1)
		s.logger.Debug("Rejecting oversized request", zap.String("addr", addr), zap.Error(err))
		_ = rw.WriteText(413, "Payload Too Large", textPlain, []byte("Payload Too Large"))
		return
	case errors.Is(err, wire.ErrMalformedRequest):
		s.metrics.incr(metricRequestsMalformed, 1)
		s.logger.Debug("Dropping malformed request", zap.String("addr", addr), zap.Error(err))
		return
	case err != nil:
		s.logger.Debug("Failed to read request", zap.String("addr", addr), zap.Error(err))
		return
	}

	if req.Truncated {
		s.logger.Debug("Request body truncated",
			zap.String("addr", addr),
			zap.Int("declared", req.ContentLength),
			zap.Int("received", len(req.Body)))
	}

	s.router.Dispatch(s.ctx, &Exchange{
		Request:    req,
		Response:   rw,
		RemoteAddr: addr,
		conn:       rwc,
		reader:     br,
	})
}

// Shutdown stops accepting, closes every event stream through the hub, and
// closes the remaining connections. It waits for connection goroutines until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	s.mu.Lock()
	s.shuttingDown = true
	ln := s.listener
	s.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	s.cancel()
	s.closeConns()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Server shutdown completed")
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
