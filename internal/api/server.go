package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
	"github.com/nerrad567/austin-relay/internal/infrastructure/database"
	"github.com/nerrad567/austin-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/austin-relay/internal/infrastructure/logging"
	"github.com/nerrad567/austin-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/austin-relay/internal/relay"
	"github.com/nerrad567/austin-relay/internal/runs"
)

// shutdownTimeout bounds how long Close waits for in-flight requests.
// Open WebSocket sessions are cut once the hub's context is cancelled.
const shutdownTimeout = 10 * time.Second

// RelayController is the part of the relay the API drives.
type RelayController interface {
	Status() relay.Status
	Stop()
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Relay   RelayController
	Runs    runs.Repository
	DB      *database.DB     // Optional: health and pool metrics
	MQTT    *mqtt.Client     // Optional: health and traffic counters
	Influx  *influxdb.Client // Optional: health and write counters
	Hub     *Hub             // If set, the server uses this hub instead of creating its own
	Version string
}

// Server serves the relay's REST API and WebSocket stream.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	relay     RelayController
	runs      runs.Repository
	db        *database.DB
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	hub       *Hub
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New validates deps and builds a Server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Relay == nil:
		return nil, errors.New("relay is required")
	case deps.Runs == nil:
		return nil, errors.New("run repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		relay:     deps.Relay,
		runs:      deps.Runs,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.Influx,
		hub:       deps.Hub,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the configured address and serves in the background. Bind
// failures are returned here rather than logged later. A server without
// an injected hub runs its own until Close.
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return errors.New("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	secs := func(n int) time.Duration { return time.Duration(n) * time.Second }
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       secs(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: secs(s.cfg.Timeouts.Read),
		WriteTimeout:      secs(s.cfg.Timeouts.Write),
		IdleTimeout:       secs(s.cfg.Timeouts.Idle),
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	tls := s.cfg.TLS
	s.logger.Info("API server listening", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr is the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting connections and waits up to shutdownTimeout for
// in-flight requests. Closing a server that never started is a no-op.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.listener == nil {
		return errors.New("api server not started")
	}
	return nil
}
