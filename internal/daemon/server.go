// Package daemon runs refkitd: the record provider over gRPC on a unix
// socket, and REST, live reference-input sessions and metrics over HTTP.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/runger/refkit/internal/config"
	"github.com/runger/refkit/internal/dataprovider"
	"github.com/runger/refkit/internal/dataprovider/remote"
	"github.com/runger/refkit/internal/dataprovider/rest"
	"github.com/runger/refkit/internal/i18n"
	"github.com/runger/refkit/internal/live"
	"github.com/runger/refkit/internal/metrics"
	"github.com/runger/refkit/internal/refstore"
)

// Version is set at build time
var Version = "dev"

// APIPrefix is where the REST resources are mounted.
const APIPrefix = "/api"

// sweepInterval is how often idle live sessions are looked for.
const sweepInterval = time.Minute

// ServerConfig contains configuration options for the daemon server.
type ServerConfig struct {
	// Provider serves the records (required). When it implements
	// dataprovider.Creator, live sessions may create records.
	Provider dataprovider.Provider

	// Paths is the path configuration (optional, uses defaults if nil)
	Paths *config.Paths

	// SocketPath overrides Paths.SocketFile().
	SocketPath string

	// HTTPAddr is the TCP address of the HTTP listener; "" disables it.
	HTTPAddr string

	// OriginPatterns are the browser origins allowed to open live sessions.
	OriginPatterns []string

	// Store tuning; zero values use the refstore defaults.
	BatchWindow time.Duration
	CacheSize   int

	// Debounce is the filter debounce of live inputs.
	Debounce time.Duration

	// SessionIdle closes live sessions without traffic; 0 keeps them.
	SessionIdle time.Duration

	Translator i18n.Translator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// ReloadFn is called on SIGHUP. If nil, SIGHUP is ignored.
	ReloadFn ReloadFunc
}

// Server is the refkit daemon.
type Server struct {
	provider    dataprovider.Provider // puts created records into store
	store       *refstore.Store
	live        *live.Handler
	metrics     *metrics.Metrics
	logger      *slog.Logger
	socketPath  string
	httpAddr    string
	sessionIdle time.Duration
	paths       *config.Paths

	grpcServer *grpc.Server
	httpServer *http.Server

	mu        sync.Mutex
	httpBound net.Addr

	startTime    time.Time
	ready        chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a daemon server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}

	paths := cfg.Paths
	if paths == nil {
		paths = config.DefaultPaths()
	}
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = paths.SocketFile()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	translator := cfg.Translator
	if translator == nil {
		translator = i18n.English()
	}

	store := refstore.New(cfg.Provider, refstore.Options{
		BatchWindow: cfg.BatchWindow,
		CacheSize:   cfg.CacheSize,
		Logger:      logger.With("component", "refstore"),
		Metrics:     cfg.Metrics,
	})
	creator, _ := cfg.Provider.(dataprovider.Creator)
	liveHandler := live.NewHandler(live.Config{
		Fetcher:        store,
		Creator:        creator,
		Translator:     translator,
		Debounce:       cfg.Debounce,
		Sessions:       live.NewManager(cfg.Metrics),
		OriginPatterns: cfg.OriginPatterns,
		Logger:         logger.With("component", "live"),
	})

	return &Server{
		provider:    syncProvider(cfg.Provider, store),
		store:       store,
		live:        liveHandler,
		metrics:     cfg.Metrics,
		logger:      logger,
		socketPath:  socketPath,
		httpAddr:    cfg.HTTPAddr,
		sessionIdle: cfg.SessionIdle,
		paths:       paths,
		startTime:   time.Now(),
		ready:       make(chan struct{}),
	}, nil
}

// Handler returns the HTTP routes: REST under APIPrefix, the live
// WebSocket at /live, Prometheus metrics at /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	r := rest.NewHandler(s.provider, s.logger.With("component", "rest")).Router(APIPrefix)
	r.Handle("/live", s.live)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// Store returns the reference store shared by live sessions.
func (s *Server) Store() *refstore.Store { return s.store }

// Sessions returns the live session manager.
func (s *Server) Sessions() *live.Manager { return s.live.Sessions() }

// Ready is closed once both listeners accept connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// HTTPAddr returns the bound HTTP address, or nil before Start or when
// HTTP is disabled.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpBound
}

// Start listens on the socket and the HTTP address and serves until ctx
// ends or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stale socket", "path", s.socketPath, "error", err)
	}
	grpcListener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		grpcListener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	var httpListener net.Listener
	if s.httpAddr != "" {
		httpListener, err = net.Listen("tcp", s.httpAddr)
		if err != nil {
			grpcListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.httpAddr, err)
		}
		s.mu.Lock()
		s.httpBound = httpListener.Addr()
		s.mu.Unlock()
	}

	s.grpcServer = grpc.NewServer()
	remote.NewServer(s.provider, s.logger.With("component", "grpc")).Register(s.grpcServer)
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("daemon starting",
		"socket", s.socketPath,
		"http", s.HTTPAddr(),
		"pid", os.Getpid(),
		"version", Version,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	if httpListener != nil {
		g.Go(func() error {
			if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		s.sweepSessions(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.Shutdown()
		return nil
	})
	close(s.ready)

	return g.Wait()
}

// Shutdown stops both servers, closes live sessions and the store, and
// removes the socket. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("daemon shutting down", "uptime", time.Since(s.startTime).Round(time.Second))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Warn("HTTP shutdown incomplete", "error", err)
			}
		}
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		s.Sessions().CloseIdle(0)
		s.store.Close()

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove socket", "path", s.socketPath, "error", err)
		}
		s.logger.Info("daemon stopped")
	})
}

// sweepSessions closes idle live sessions until ctx ends.
func (s *Server) sweepSessions(ctx context.Context) {
	if s.sessionIdle <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(min(sweepInterval, s.sessionIdle))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sessions().CloseIdle(s.sessionIdle); n > 0 {
				s.logger.Info("closed idle live sessions", "count", n)
			}
		}
	}
}
