// Package app wires configuration, logging, metrics, the hub and the HTTP
// surface into the two binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Learath2/libtw2/internal/config"
	"github.com/Learath2/libtw2/internal/hub"
	servernet "github.com/Learath2/libtw2/internal/net"
	"github.com/Learath2/libtw2/internal/net/ws"
	"github.com/Learath2/libtw2/internal/replication"
	"github.com/Learath2/libtw2/internal/sim"
	"github.com/Learath2/libtw2/internal/telemetry"
	"github.com/Learath2/libtw2/logging"
	loggingSinks "github.com/Learath2/libtw2/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

// Server is a configured but not yet listening replication server.
type Server struct {
	logger  telemetry.Logger
	router  *logging.Router
	hub     *hub.Hub
	handler http.Handler
}

// NewServer builds the logging router, metrics registry, hub and HTTP
// handler. A nil logger writes to the standard logger.
func NewServer(cfg config.Config, logger telemetry.Logger) (*Server, error) {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	sinks, err := loggingSinks.Build(cfg.Logging(), os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to build log sinks: %w", err)
	}
	router, err := logging.NewRouter(nil, cfg.Logging(), sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := telemetry.NewPrometheus(registry)
	if err != nil {
		router.Close(context.Background())
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	hubCfg := hub.DefaultConfig()
	hubCfg.TickRate = cfg.TickRate
	hubCfg.HistoryTicks = cfg.HistoryTicks
	hubCfg.OutboxSize = cfg.OutboxSize
	hubCfg.World.Entities = cfg.WorldEntities
	hubCfg.World.Seed = cfg.WorldSeed
	hubCfg.Logger = logger
	hubCfg.Metrics = metrics
	h := hub.New(hubCfg, router)

	if err := registry.Register(telemetry.NewHistoryCollector(h.Storage(), h.Manager())); err != nil {
		router.Close(context.Background())
		return nil, fmt.Errorf("failed to register history collector: %w", err)
	}

	handler := servernet.NewHTTPHandler(h, servernet.HTTPHandlerConfig{
		Logger:        logger,
		Observability: cfg.Observability(),
		Gatherer:      registry,
		RouterStats:   router.Stats,
	})

	return &Server{
		logger:  logger,
		router:  router,
		hub:     h,
		handler: handler,
	}, nil
}

func (s *Server) Hub() *hub.Hub {
	return s.hub
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve runs the simulation and the HTTP server on ln until ctx is done or
// either of them fails. Subscribers are released and the logging router is
// flushed before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	simCtx, cancelSim := context.WithCancel(ctx)
	defer cancelSim()
	simErr := make(chan error, 1)
	go func() {
		simErr <- s.hub.RunSimulation(simCtx)
	}()

	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	s.logger.Printf("server listening on %s", ln.Addr())

	var runErr error
	simDone := false
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	case err := <-simErr:
		simDone = true
		if err != nil {
			runErr = fmt.Errorf("simulation failed: %w", err)
		}
	}

	cancelSim()
	if !simDone {
		if err := <-simErr; err != nil && runErr == nil {
			runErr = fmt.Errorf("simulation failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("http shutdown: %v", err)
	}
	if err := s.router.Close(shutdownCtx); err != nil {
		s.logger.Printf("failed to close logging router: %v", err)
	}
	return runErr
}

// RunServer listens on cfg.Addr and serves until ctx is done.
func RunServer(ctx context.Context, cfg config.Config) error {
	s, err := NewServer(cfg, nil)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.router.Close(context.Background())
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// RunClient connects to cfg.ServerURL and keeps a replica of the world until
// ctx is done, printing a line per second of server ticks.
func RunClient(ctx context.Context, cfg config.Config, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	every := snapTickInterval(cfg.TickRate)
	client, err := ws.Dial(ctx, ws.ClientConfig{
		URL:          cfg.ServerURL,
		Schema:       sim.Schema(),
		HistoryTicks: cfg.HistoryTicks,
		Logger:       logger,
		OnSnapshot: func(d replication.ReceivedDelta) {
			if d.Full || uint32(d.Tick)%every == 0 {
				logger.Printf("tick %d: %d items (base %d, full %t)", d.Tick, d.Snap.Len(), d.BaseTick, d.Full)
			}
		},
	})
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Printf("connected as %s at %d ticks/s", client.PeerID(), client.TickRate())

	err = client.Run(ctx)
	stats := client.Stats()
	logger.Printf("received %d frames: %d full, %d incremental, %d stale, %d unusable, %d resync requests",
		stats.Frames, stats.Full, stats.Incremental, stats.Stale, stats.Unusable, stats.Resyncs)
	return err
}

func snapTickInterval(rate int) uint32 {
	if rate <= 0 {
		return 1
	}
	return uint32(rate)
}
