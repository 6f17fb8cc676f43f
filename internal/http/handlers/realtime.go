package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/repairguide-backend/internal/http/response"
	"github.com/yungbote/repairguide-backend/internal/platform/ctxutil"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/realtime"
	"github.com/yungbote/repairguide-backend/internal/session"
)

type RealtimeHandler struct {
	Log      *logger.Logger
	Hub      *realtime.SSEHub
	Sessions *session.Manager
	// TouchEvery keeps a session alive while one of its streams is open.
	TouchEvery time.Duration
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, sessions *session.Manager) *RealtimeHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &RealtimeHandler{
		Log:        log.With("Handler", "RealtimeHandler"),
		Hub:        hub,
		Sessions:   sessions,
		TouchEvery: time.Minute,
	}
}

// GET /api/events
// The first frame is the current snapshot; later frames follow every state change.
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	ctx := c.Request.Context()
	sid := ctxutil.SessionID(ctx)
	if sid == "" {
		response.RespondError(c, http.StatusUnauthorized, "missing_session", errors.New("missing session"))
		return
	}
	m, err := h.Sessions.GetOrCreate(ctx, sid)
	if err != nil {
		h.Log.Error("Session lookup failed", "session_id", sid, "error", err)
		response.RespondError(c, http.StatusServiceUnavailable, "session_unavailable", errors.New("session store unavailable"))
		return
	}

	client := h.Hub.NewSSEClient(sid)
	channel := realtime.SessionChannel(sid)
	h.Hub.AddChannel(client, channel)
	defer h.Hub.CloseClient(client)

	select {
	case client.Outbound <- realtime.SSEMessage{Channel: channel, Event: realtime.SSEEventStateChanged, Data: m.Snapshot()}:
	default:
	}

	if h.TouchEvery > 0 {
		go func() {
			t := time.NewTicker(h.TouchEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					h.Sessions.Touch(sid)
				}
			}
		}()
	}

	h.Log.Debug("SSEStream open", "session_id", sid, "client_id", client.ID.String())
	h.Hub.ServeHTTP(c.Writer, c.Request, client)
	h.Sessions.Touch(sid)
}
