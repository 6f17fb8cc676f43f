package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/repairguide-backend/internal/config"
	apphttp "github.com/yungbote/repairguide-backend/internal/http"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/realtime"
	"github.com/yungbote/repairguide-backend/internal/realtime/bus"
	"github.com/yungbote/repairguide-backend/internal/session"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type App struct {
	Log      *logger.Logger
	Cfg      *config.Config
	Metrics  *observability.Metrics
	Clients  Clients
	Sessions *session.Manager
	SSEHub   *realtime.SSEHub
	Server   *apphttp.Server

	bus       bus.Bus
	relay     *bus.Relay
	stopTrace func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	mode := "development"
	if cfg.IsProduction() {
		mode = "production"
	}
	log, err := logger.NewWithOptions(mode, logger.Options{Level: cfg.LogLevel, HashSalt: cfg.Session.Secret})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = observability.New()
	}
	stopTrace := observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.Telemetry.OTelEnabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Env,
		Version:     Version,
		Endpoint:    cfg.Telemetry.OTelEndpoint,
		Insecure:    cfg.Telemetry.OTelInsecure,
		SampleRatio: cfg.Telemetry.OTelSampleRate,
	})

	clients, err := wireClients(ctx, log, cfg, metrics)
	if err != nil {
		_ = stopTrace(context.Background())
		log.Sync()
		return nil, err
	}

	a := &App{Log: log, Cfg: cfg, Metrics: metrics, Clients: clients, stopTrace: stopTrace}

	log.Info("Setting up SSE hub...")
	a.SSEHub = realtime.NewSSEHub(log, realtime.Options{
		ClientBuffer: cfg.Realtime.ClientBuffer,
		Heartbeat:    cfg.Realtime.Heartbeat.Duration,
		Metrics:      metrics,
	})
	if cfg.Realtime.Bus == "redis" {
		b, err := bus.NewRedisBus(log, clients.Redis, cfg.Realtime.Channel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init redis SSE bus: %w", err)
		}
		a.bus = b
		a.relay = bus.NewRelay(b, log, metrics, 0)
	}

	a.Sessions = session.NewManager(session.ManagerOptions{
		KV:               clients.KV,
		Gateway:          clients.Gateway,
		Publish:          a.publish,
		TTL:              cfg.Session.TTL.Duration,
		SweepInterval:    cfg.Session.SweepInterval.Duration,
		CallTimeout:      cfg.Gateway.Timeout.Duration,
		ImageConcurrency: cfg.Gateway.ImageConcurrency,
		Log:              log,
		Metrics:          metrics,
	})

	handlerset := wireHandlers(log, clients, a.Sessions, a.SSEHub)
	middleware := wireMiddleware(log, cfg)
	a.Server = wireServer(log, cfg, metrics, handlerset, middleware)

	log.Info("App ready", "provider", cfg.Gateway.Provider, "store", cfg.Store.Type, "bus", cfg.Realtime.Bus, "version", Version)
	return a, nil
}

// publish fans a session snapshot out to SSE subscribers, through the bus when one is configured.
// It runs under the session lock and never blocks.
func (a *App) publish(sessionID string, snap session.Snapshot) {
	msg := realtime.SSEMessage{
		Channel: realtime.SessionChannel(sessionID),
		Event:   realtime.SSEEventStateChanged,
		Data:    snap,
	}
	if a.relay != nil {
		a.relay.Publish(msg)
		return
	}
	a.SSEHub.Broadcast(msg)
}

// Run serves HTTP and runs background loops until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Sessions.Run(gctx)
		return nil
	})
	if a.bus != nil {
		g.Go(func() error {
			a.relay.Run(gctx)
			return nil
		})
		if err := a.bus.StartForwarder(gctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start SSE forwarder: %w", err)
		}
	}
	if a.Metrics != nil && a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(gctx, a.Log, a.Clients.Redis, 15*time.Second)
	}
	g.Go(func() error {
		return a.Server.Run(gctx)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Sessions != nil {
		a.Sessions.Close()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	a.Clients.Close()
	if a.stopTrace != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.stopTrace(ctx); err != nil {
			a.Log.Warn("Trace shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
