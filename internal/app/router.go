package app

import (
	"github.com/yungbote/repairguide-backend/internal/config"
	apphttp "github.com/yungbote/repairguide-backend/internal/http"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

func wireServer(log *logger.Logger, cfg *config.Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *apphttp.Server {
	tracing := ""
	if cfg.Telemetry.OTelEnabled {
		tracing = cfg.Telemetry.ServiceName
	}
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:               log,
		Metrics:           metrics,
		TracingService:    tracing,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		MaxRequestBytes:   cfg.HTTP.MaxRequestBytes,
		SessionMiddleware: middleware.Session,
		SessionHandler:    handlers.Session,
		RealtimeHandler:   handlers.Realtime,
		HealthHandler:     handlers.Health,
	}, cfg.HTTP)
}
