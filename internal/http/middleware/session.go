package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/repairguide-backend/internal/config"
	"github.com/yungbote/repairguide-backend/internal/http/response"
	"github.com/yungbote/repairguide-backend/internal/platform/ctxutil"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

// ContextSessionID is the gin context key holding the resolved session id.
const ContextSessionID = "session_id"

var errInvalidSession = errors.New("invalid session token")

type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionMiddleware binds every request to a browser session carried in a signed cookie.
// Requests without a valid cookie start a new session.
type SessionMiddleware struct {
	log    *logger.Logger
	name   string
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionMiddleware(log *logger.Logger, cfg config.SessionConfig) *SessionMiddleware {
	if log == nil {
		log = logger.NewNop()
	}
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = "rg_session"
	}
	return &SessionMiddleware{
		log:    log.With("Middleware", "SessionMiddleware"),
		name:   name,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL.Duration,
		secure: cfg.SecureCookie,
		now:    time.Now,
	}
}

func (sm *SessionMiddleware) CookieName() string { return sm.name }

func (sm *SessionMiddleware) Attach() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := ""
		if raw := sm.extractToken(c); raw != "" {
			id, err := sm.Parse(raw)
			if err != nil {
				sm.log.Debug("Discarding session token", "error", err)
			} else {
				sid = id
			}
		}
		if sid == "" {
			sid = uuid.NewString()
		}

		token, err := sm.Issue(sid)
		if err != nil {
			response.RespondError(c, http.StatusInternalServerError, "session_failed", err)
			return
		}
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     sm.name,
			Value:    token,
			Path:     "/",
			MaxAge:   int(sm.ttl / time.Second),
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteLaxMode,
		})

		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{SessionID: sid})
		c.Request = c.Request.WithContext(ctx)
		c.Set(ContextSessionID, sid)
		c.Next()
	}
}

// Issue signs a session token for sid valid for the configured TTL.
func (sm *SessionMiddleware) Issue(sid string) (string, error) {
	now := sm.now()
	claims := SessionClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sm.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sm.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns its session id.
func (sm *SessionMiddleware) Parse(raw string) (string, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return sm.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(claims.SessionID); err != nil {
		return "", errInvalidSession
	}
	return claims.SessionID, nil
}

// extractToken reads the cookie, then a bearer header for non-browser clients.
func (sm *SessionMiddleware) extractToken(c *gin.Context) string {
	if v, err := c.Cookie(sm.name); err == nil && v != "" {
		return v
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
