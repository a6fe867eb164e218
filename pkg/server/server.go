// Package server puts the call server together.
package server

import (
	"context"
	"fmt"

	"github.com/videochat/groupcall/pkg/call"
	"github.com/videochat/groupcall/pkg/config"
	"github.com/videochat/groupcall/pkg/logger"
	"github.com/videochat/groupcall/pkg/media/loopback"
	"github.com/videochat/groupcall/pkg/media/pion"
	"github.com/videochat/groupcall/pkg/monitoring"
	"github.com/videochat/groupcall/pkg/network/httpx"
	"github.com/videochat/groupcall/pkg/service"
	"github.com/videochat/groupcall/pkg/signal"
)

type Server struct {
	conf     config.Config
	services service.Group

	registry *call.Registry
	proto    *signal.Protocol
	http     *httpx.Server
	metrics  *monitoring.Metrics
	log      *logger.Logger
}

// New wires the media engine, the rooms and the signaling API.
func New(conf config.Config, log *logger.Logger, extra ...service.Service) (*Server, error) {
	if err := conf.Engine.Validate(); err != nil {
		return nil, err
	}
	metrics := monitoring.NewMetrics()

	engine, closeEngine, err := NewEngine(conf.Engine, log)
	if err != nil {
		return nil, fmt.Errorf("media engine: %w", err)
	}
	hub := signal.NewHub(metrics, log)
	registry := call.NewRegistry(engine,
		call.WithLogger(log),
		call.WithRelay(hub),
		call.WithMetrics(metrics),
	)
	proto := signal.NewProtocol(registry, hub, metrics, log)
	api := signal.NewServer(proto, conf.Signal, log, signal.WithIceServers(conf.Engine.IceServers))

	srv, err := httpx.NewServer(
		conf.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler { return api.Router() },
		httpx.WithServerConfig(conf.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		_ = closeEngine()
		return nil, err
	}

	s := &Server{conf: conf, registry: registry, proto: proto, http: srv, metrics: metrics, log: log}
	s.services.Add(&rooms{registry: registry, close: closeEngine, log: log}, srv)
	if conf.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Monitoring, metrics, log)
		if err != nil {
			_ = srv.Stop()
			_ = closeEngine()
			return nil, err
		}
		s.services.Add(mon)
	}
	s.services.Add(extra...)
	return s, nil
}

// NewEngine makes the configured media engine and its cleanup.
func NewEngine(conf config.Engine, log *logger.Logger) (call.Engine, func() error, error) {
	switch conf.Kind {
	case config.EnginePion:
		e, err := pion.New(conf, log)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	case config.EngineLoopback:
		log.Warn().Msg("The loopback media engine moves no media")
		return loopback.New(conf.AutoConnect, log), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown media engine %q", conf.Kind)
}

func (s *Server) Start() {
	s.log.Info().Msgf("Call API at %v%v", s.http, s.conf.Signal.UrlPrefix)
	s.services.Start()
}

func (s *Server) Shutdown(ctx context.Context) error { return s.services.Shutdown(ctx) }

func (s *Server) Addr() string                 { return s.http.Addr }
func (s *Server) Port() int                    { return s.http.GetPort() }
func (s *Server) Registry() *call.Registry     { return s.registry }
func (s *Server) Protocol() *signal.Protocol   { return s.proto }
func (s *Server) Metrics() *monitoring.Metrics { return s.metrics }

// rooms ends all the calls on shutdown.
type rooms struct {
	registry *call.Registry
	close    func() error
	log      *logger.Logger
}

func (r *rooms) Run() {}

func (r *rooms) Shutdown(ctx context.Context) error {
	r.log.Info().Int("rooms", r.registry.Len()).Msg("Closing the rooms")
	r.registry.Close(ctx)
	return r.close()
}

func (r *rooms) String() string { return "rooms" }
