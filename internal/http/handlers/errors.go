package handlers

import (
	"errors"
	"net/http"

	"github.com/yungbote/repairguide-backend/internal/gateway"
	"github.com/yungbote/repairguide-backend/internal/platform/apierr"
	"github.com/yungbote/repairguide-backend/internal/session"
)

const (
	CodeInvalidRequest     = "invalid_request"
	CodeEmptyCredential    = "empty_credential"
	CodeNoCredential       = "no_credential"
	CodeStepNotFound       = "step_not_found"
	CodeSessionClosed      = "session_closed"
	CodeCredentialRejected = "credential_rejected"
	CodeImageFailed        = "image_failed"
	CodeInternal           = "internal_error"
)

const msgImageFailed = "Failed to generate the illustration for this step."

// sessionError maps machine and gateway errors onto the API error envelope.
func sessionError(err error) *apierr.Error {
	switch {
	case errors.Is(err, session.ErrEmptyCredential):
		return apierr.New(http.StatusBadRequest, CodeEmptyCredential, err)
	case errors.Is(err, session.ErrNoCredential):
		return apierr.New(http.StatusConflict, CodeNoCredential, err)
	case errors.Is(err, session.ErrStepNotFound):
		return apierr.New(http.StatusNotFound, CodeStepNotFound, err)
	case errors.Is(err, session.ErrClosed):
		return apierr.New(http.StatusConflict, CodeSessionClosed, err)
	case gateway.IsAuthDenied(err):
		return apierr.New(http.StatusUnauthorized, CodeCredentialRejected, errors.New(session.MsgKeyRejected))
	default:
		return apierr.From(err, CodeInternal)
	}
}
