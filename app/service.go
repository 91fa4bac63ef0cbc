package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kilianp07/roamgate/api/admin"
	"github.com/kilianp07/roamgate/api/ocpi"
	"github.com/kilianp07/roamgate/app/plugins"
	"github.com/kilianp07/roamgate/config"
	"github.com/kilianp07/roamgate/core/authz"
	"github.com/kilianp07/roamgate/core/callback"
	"github.com/kilianp07/roamgate/core/commandlog"
	"github.com/kilianp07/roamgate/core/events"
	"github.com/kilianp07/roamgate/core/gateway"
	"github.com/kilianp07/roamgate/core/ingest"
	coremetrics "github.com/kilianp07/roamgate/core/metrics"
	coremon "github.com/kilianp07/roamgate/core/monitoring"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
	"github.com/kilianp07/roamgate/infra/logger"
	"github.com/kilianp07/roamgate/infra/metrics"
	"github.com/kilianp07/roamgate/infra/monitoring"
	"github.com/kilianp07/roamgate/infra/mqtt"
	"github.com/kilianp07/roamgate/internal/eventbus"
	"github.com/kilianp07/roamgate/internal/workqueue"
)

// Option customizes a Service.
type Option func(*options)

type options struct {
	clients station.ClientFactory
}

// WithClientFactory replaces the MQTT transport as the way to reach stations.
func WithClientFactory(f station.ClientFactory) Option {
	return func(o *options) { o.clients = f }
}

// Service wires the gateway, its backends and the HTTP surfaces.
type Service struct {
	cfg       *config.Config
	log       logger.Logger
	store     store.Store
	presence  station.Presence
	transport *mqtt.Transport
	queue     *workqueue.Queue
	commands  *eventbus.TypedBus[events.CommandEvent]
	stations  *eventbus.TypedBus[events.StationEvent]
	logs      commandlog.Store
	sink      coremetrics.MetricsSink
	recorded  <-chan struct{}

	Gateway *gateway.Gateway
	Ingest  *ingest.Handler

	ocpi  *ocpi.Server
	admin *admin.Server

	closeOnce sync.Once
}

// New creates a Service from the configuration. Backends are opened
// immediately; nothing listens until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Service, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger.SetLevel(cfg.LogLevel)
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	s := &Service{cfg: cfg, log: logger.New("service")}
	defer func() {
		if err != nil {
			_ = s.release()
		}
	}()

	if s.store, err = plugins.NewStore(ctx, cfg.Store); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if s.presence, err = plugins.NewPresence(ctx, cfg.Presence); err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}
	if s.logs, err = plugins.NewCommandLog(ctx, cfg.CommandLog); err != nil {
		return nil, fmt.Errorf("command log: %w", err)
	}
	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	resolver := tenant.NewResolver(s.store, tenant.NewCache())
	s.commands = eventbus.NewTyped[events.CommandEvent](
		eventbus.WithBuffer(cfg.Gateway.EventBuffer), eventbus.WithDropHook(gateway.EventDropHook("command")))
	s.stations = eventbus.NewTyped[events.StationEvent](
		eventbus.WithBuffer(cfg.Gateway.EventBuffer), eventbus.WithDropHook(gateway.EventDropHook("station")))
	s.Ingest = ingest.NewHandler(resolver, s.store, s.presence, s.stations, logger.New("ingest"))

	clients := o.clients
	switch {
	case clients != nil:
	case cfg.MQTT.Broker != "":
		if s.transport, err = mqtt.NewTransport(cfg.MQTT, s.presence, s.Ingest); err != nil {
			return nil, fmt.Errorf("mqtt transport: %w", err)
		}
		clients = s.transport
	default:
		s.log.Warnf("no mqtt broker configured, stations are unreachable")
		clients = station.ClientFactoryFunc(func(context.Context, station.Key) (station.Client, error) {
			return nil, nil
		})
	}

	s.queue = workqueue.New(cfg.Gateway.Workers, cfg.Gateway.QueueSize)
	s.queue.OnOverflow(gateway.QueueOverflowHook)
	s.Gateway, err = gateway.New(gateway.Deps{
		Tenants:         resolver,
		Store:           s.store,
		Ledger:          authz.NewLedger(cfg.Gateway.AuthorizationWindow()),
		Dispatcher:      station.NewDispatcher(clients),
		Notifier:        callback.NewNotifier(cfg.Gateway.CallbackTimeout()),
		Queue:           s.queue,
		Events:          s.commands,
		Logger:          logger.New("gateway"),
		DispatchTimeout: cfg.Gateway.DispatchTimeout(),
	})
	if err != nil {
		return nil, err
	}

	// Consumers stop when the buses close.
	s.recorded = commandlog.StartRecorder(context.Background(), s.commands, s.logs, logger.New("command-log"))
	metrics.StartEventCollector(context.Background(), s.commands, s.stations, s.sink)

	s.ocpi = ocpi.NewServer(s.Gateway, resolver, s.store, logger.New("ocpi"))
	s.admin = admin.NewServer(resolver, s.store, s.logs, cfg.HTTP.AdminToken, logger.New("admin"))
	return s, nil
}

// OCPIHandler serves the roaming partner command endpoints.
func (s *Service) OCPIHandler() http.Handler { return s.ocpi.Routes() }

// AdminHandler serves the operator API.
func (s *Service) AdminHandler() http.Handler { return s.admin.Routes() }

// Store exposes the persistence backend.
func (s *Service) Store() store.Store { return s.store }

// CommandLog exposes the command audit log.
func (s *Service) CommandLog() commandlog.Store { return s.logs }

// Run serves both HTTP surfaces and the optional Prometheus endpoint until
// ctx is canceled, then drains in-flight commands.
func (s *Service) Run(ctx context.Context) error {
	servers := []*http.Server{
		s.httpServer(s.cfg.HTTP.OCPIAddr, s.OCPIHandler()),
		s.httpServer(s.cfg.HTTP.AdminAddr, s.AdminHandler()),
	}
	errCh := make(chan error, len(servers)+1)
	for _, srv := range servers {
		go func(srv *http.Server) {
			s.log.Infof("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, addr); err != nil {
				errCh <- fmt.Errorf("prom server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		s.log.Errorf("%v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout())
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("shutdown %s: %v", srv.Addr, err)
		}
	}
	s.drain(shutdownCtx)
	return runErr
}

// drain waits for queued commands, then closes the buses so the command log
// sees every terminal record.
func (s *Service) drain(ctx context.Context) {
	if s.queue != nil {
		if err := s.queue.Close(ctx); err != nil {
			s.log.Warnf("drain command queue: %v", err)
		}
	}
	if s.commands != nil {
		s.commands.Close()
	}
	if s.stations != nil {
		s.stations.Close()
	}
	if s.recorded != nil {
		select {
		case <-s.recorded:
		case <-ctx.Done():
		}
	}
}

func (s *Service) httpServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: s.cfg.HTTP.ReadHeaderTimeout(),
	}
}

// Close releases every backend. It is safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.release() })
	return err
}

func (s *Service) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	s.drain(ctx)
	cancel()
	if s.transport != nil {
		s.transport.Disconnect()
	}
	var errs []error
	if s.logs != nil {
		errs = append(errs, s.logs.Close())
	}
	if c, ok := s.presence.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
