package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/repairguide-backend/internal/http/response"
	"github.com/yungbote/repairguide-backend/internal/platform/apierr"
	"github.com/yungbote/repairguide-backend/internal/platform/ctxutil"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/session"
)

type SessionHandler struct {
	log         *logger.Logger
	sessions    *session.Manager
	waitTimeout time.Duration
}

func NewSessionHandler(log *logger.Logger, sessions *session.Manager, waitTimeout time.Duration) *SessionHandler {
	if log == nil {
		log = logger.NewNop()
	}
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &SessionHandler{log: log.With("Handler", "SessionHandler"), sessions: sessions, waitTimeout: waitTimeout}
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type topicRequest struct {
	Topic string `json:"topic"`
}

type imagePayload struct {
	DataURI  string `json:"data_uri"`
	MimeType string `json:"mime_type"`
}

// GET /api/state[?wait=1]
func (h *SessionHandler) GetState(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if wantWait(c.Query("wait")) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.waitTimeout)
		err := m.Wait(ctx)
		cancel()
		if err != nil && c.Request.Context().Err() != nil {
			return
		}
	}
	response.RespondOK(c, gin.H{"state": m.Snapshot()})
}

// POST /api/credential
func (h *SessionHandler) SubmitCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := m.SubmitCredential(c.Request.Context(), req.APIKey); err != nil {
		response.RespondAPIError(c, sessionError(err), CodeInternal)
		return
	}
	response.RespondAccepted(c, gin.H{"state": m.Snapshot()})
}

// DELETE /api/credential
func (h *SessionHandler) ClearCredential(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := m.ClearCredential(c.Request.Context()); err != nil {
		if errors.Is(err, session.ErrClosed) {
			response.RespondAPIError(c, sessionError(err), CodeInternal)
			return
		}
		h.log.Warn("Credential store clear failed", "error", err)
	}
	response.RespondOK(c, gin.H{"state": m.Snapshot()})
}

// POST /api/topics/refresh
func (h *SessionHandler) RefreshTopics(c *gin.Context) {
	h.accepted(c, (*session.Machine).RefreshTopics)
}

// POST /api/tutorial
func (h *SessionHandler) SelectTopic(c *gin.Context) {
	var req topicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		response.RespondError(c, http.StatusBadRequest, CodeInvalidRequest, errors.New("topic must not be empty"))
		return
	}
	h.accepted(c, func(m *session.Machine) error { return m.SelectTopic(topic) })
}

// DELETE /api/tutorial
func (h *SessionHandler) GoBack(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := m.GoBack(); err != nil {
		response.RespondAPIError(c, sessionError(err), CodeInternal)
		return
	}
	response.RespondOK(c, gin.H{"state": m.Snapshot()})
}

// POST /api/retry
func (h *SessionHandler) Retry(c *gin.Context) {
	h.accepted(c, (*session.Machine).Retry)
}

// GET /api/tutorial/steps/:index/image
// The request blocks until the image settles. A client disconnect cancels generation.
func (h *SessionHandler) StepImage(c *gin.Context) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.RespondAPIError(c, sessionError(session.ErrStepNotFound), CodeInternal)
		return
	}
	ctx := c.Request.Context()
	task, err := m.SpawnImage(ctx, index)
	if err != nil {
		response.RespondAPIError(c, sessionError(err), CodeInternal)
		return
	}
	defer task.Cancel()

	img, err := task.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if apiErr := sessionError(err); apiErr.Code == CodeCredentialRejected {
			response.RespondAPIError(c, apiErr, CodeInternal)
			return
		}
		h.log.Warn("Step image failed", "step", task.Step.StepNumber, "error", err)
		response.RespondAPIError(c, apierr.New(http.StatusBadGateway, CodeImageFailed, errors.New(msgImageFailed)), CodeInternal)
		return
	}
	response.RespondOK(c, gin.H{"image": imagePayload{DataURI: img.DataURI, MimeType: img.MimeType}})
}

func (h *SessionHandler) accepted(c *gin.Context, action func(*session.Machine) error) {
	m, ok := h.machine(c)
	if !ok {
		return
	}
	if err := action(m); err != nil {
		response.RespondAPIError(c, sessionError(err), CodeInternal)
		return
	}
	response.RespondAccepted(c, gin.H{"state": m.Snapshot()})
}

func (h *SessionHandler) machine(c *gin.Context) (*session.Machine, bool) {
	sid := ctxutil.SessionID(c.Request.Context())
	if sid == "" {
		response.RespondError(c, http.StatusUnauthorized, "missing_session", errors.New("missing session"))
		return nil, false
	}
	m, err := h.sessions.GetOrCreate(c.Request.Context(), sid)
	if err != nil {
		h.log.Error("Session lookup failed", "session_id", sid, "error", err)
		response.RespondError(c, http.StatusServiceUnavailable, "session_unavailable", errors.New("session store unavailable"))
		return nil, false
	}
	return m, true
}

func wantWait(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
