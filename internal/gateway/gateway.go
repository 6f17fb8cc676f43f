package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/platform/httpx"
)

// Gateway is the remote generative service. Every call is a single attempt.
type Gateway interface {
	ListTopics(ctx context.Context, cred domain.Credential) (domain.TopicList, error)
	GenerateSteps(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error)
	GenerateImage(ctx context.Context, cred domain.Credential, prompt string) (domain.GeneratedImage, error)
}

// Releaser is implemented by gateways that hold resources per credential.
type Releaser interface {
	Release(cred domain.Credential)
}

// Release frees whatever gw holds for cred. Gateways without per-credential state ignore it.
func Release(gw Gateway, cred domain.Credential) {
	if r, ok := gw.(Releaser); ok && !cred.Empty() {
		r.Release(cred)
	}
}

type Op string

const (
	OpListTopics    Op = "list_topics"
	OpGenerateSteps Op = "generate_steps"
	OpGenerateImage Op = "generate_image"
)

type Reason int

const (
	Transient Reason = iota
	AuthDenied
	Malformed
)

func (r Reason) String() string {
	switch r {
	case AuthDenied:
		return "auth_denied"
	case Malformed:
		return "malformed"
	default:
		return "transient"
	}
}

var (
	// ErrMalformed marks a successful response that did not carry the expected payload.
	ErrMalformed  = errors.New("malformed response")
	ErrEmptyInput = errors.New("empty input")
)

type Error struct {
	Op     Op
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "gateway error"
	}
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify wraps a backend error into *Error. Errors that already are *Error pass through.
func Classify(op Op, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	return &Error{Op: op, Reason: reasonOf(err), Err: err}
}

func reasonOf(err error) Reason {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, ErrMalformed) {
		return Malformed
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return AuthDenied
		}
	}
	if httpx.IsAuthStatus(httpx.StatusCode(err)) {
		return AuthDenied
	}
	if authMessage(err.Error()) {
		return AuthDenied
	}
	return Transient
}

// IsAuthDenied reports whether err means the credential was rejected.
// Untyped errors are matched on their message.
func IsAuthDenied(err error) bool {
	if err == nil {
		return false
	}
	var ge *Error
	if errors.As(err, &ge) && ge.Reason == AuthDenied {
		return true
	}
	return authMessage(err.Error())
}

func ReasonOf(err error) Reason {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return reasonOf(err)
}

func authMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "api key") || strings.Contains(msg, "permission denied")
}
