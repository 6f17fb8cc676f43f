package app

import (
	"context"

	httpH "github.com/yungbote/repairguide-backend/internal/http/handlers"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/realtime"
	"github.com/yungbote/repairguide-backend/internal/session"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Session  *httpH.SessionHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, clients Clients, sessions *session.Manager, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	checks := map[string]httpH.Pinger{}
	if clients.Redis != nil {
		rdb := clients.Redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return Handlers{
		Health:   httpH.NewHealthHandler(checks),
		Session:  httpH.NewSessionHandler(log, sessions, 0),
		Realtime: httpH.NewRealtimeHandler(log, hub, sessions),
	}
}
