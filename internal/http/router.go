package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/repairguide-backend/internal/http/handlers"
	httpMW "github.com/yungbote/repairguide-backend/internal/http/middleware"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	// TracingService enables otelgin spans under this service name when non-empty.
	TracingService  string
	AllowedOrigins  []string
	MaxRequestBytes int64

	SessionMiddleware *httpMW.SessionMiddleware
	SessionHandler    *httpH.SessionHandler
	RealtimeHandler   *httpH.RealtimeHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingService != "" {
		r.Use(otelgin.Middleware(cfg.TracingService))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(httpMW.NoStore(), httpMW.MaxBodyBytes(cfg.MaxRequestBytes))
	if cfg.SessionMiddleware != nil {
		api.Use(cfg.SessionMiddleware.Attach())
	}
	{
		if cfg.SessionHandler != nil {
			api.GET("/state", cfg.SessionHandler.GetState)
			api.POST("/credential", cfg.SessionHandler.SubmitCredential)
			api.DELETE("/credential", cfg.SessionHandler.ClearCredential)
			api.POST("/topics/refresh", cfg.SessionHandler.RefreshTopics)
			api.POST("/tutorial", cfg.SessionHandler.SelectTopic)
			api.DELETE("/tutorial", cfg.SessionHandler.GoBack)
			api.POST("/retry", cfg.SessionHandler.Retry)
			api.GET("/tutorial/steps/:index/image", cfg.SessionHandler.StepImage)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/events", cfg.RealtimeHandler.SSEStream)
		}
	}

	return r
}
