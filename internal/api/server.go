package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/colourlab-core/internal/archive"
	"github.com/nerrad567/colourlab-core/internal/audit"
	"github.com/nerrad567/colourlab-core/internal/events"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/config"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/database"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/logging"
	"github.com/nerrad567/colourlab-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/colourlab-core/internal/process"
	"github.com/nerrad567/colourlab-core/internal/scheduler"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Experiment config.ExperimentConfig
	Logger     *logging.Logger
	Scheduler  *scheduler.Scheduler

	// Optional collaborators. Nil disables the routes or metrics that
	// depend on them.
	Archive   archive.Repository
	Audit     *audit.Writer
	DB        *database.DB
	Bus       *events.Bus
	MQTT      *mqtt.Client
	Simulator *process.Manager

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	expCfg     config.ExperimentConfig
	logger     *logging.Logger
	sched      *scheduler.Scheduler
	archive    archive.Repository
	audit      *audit.Writer
	db         *database.DB
	bus        *events.Bus
	mqtt       *mqtt.Client
	simulator  *process.Manager
	version    string
	hub        *Hub
	startTime  time.Time
	server     *http.Server
	cancel     context.CancelFunc
	mu         sync.Mutex
	listenAddr net.Addr
}

// New creates a server. It is not listening until Start is called, but
// its Hub can already be subscribed to the event bus.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		expCfg:    deps.Experiment,
		logger:    deps.Logger,
		sched:     deps.Scheduler,
		archive:   deps.Archive,
		audit:     deps.Audit,
		db:        deps.DB,
		bus:       deps.Bus,
		mqtt:      deps.MQTT,
		simulator: deps.Simulator,
		version:   deps.Version,
		hub:       NewHub(deps.WS, deps.Logger),
		startTime: time.Now(),
	}, nil
}

// Hub returns the WebSocket hub, which implements events.Sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background until Close.
// A bind failure (port in use) is returned directly.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.mu.Lock()
	s.server = server
	s.listenAddr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.Addr() == nil {
		return errors.New("api server not started")
	}
	return nil
}
