package app

import (
	"github.com/yungbote/repairguide-backend/internal/config"
	httpMW "github.com/yungbote/repairguide-backend/internal/http/middleware"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

type Middleware struct {
	Session *httpMW.SessionMiddleware
}

func wireMiddleware(log *logger.Logger, cfg *config.Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Session: httpMW.NewSessionMiddleware(log, cfg.Session),
	}
}
