package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/observability"
)

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("upstream %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Reason
	}{
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "nope"), AuthDenied},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "nope"), AuthDenied},
		{"grpc unavailable", status.Error(codes.Unavailable, "try later"), Transient},
		{"http 401", statusErr{401}, AuthDenied},
		{"wrapped http 403", fmt.Errorf("call: %w", statusErr{403}), AuthDenied},
		{"http 500", statusErr{500}, Transient},
		{"api key message", errors.New("API Key not valid. Please pass a valid API key."), AuthDenied},
		{"permission message", errors.New("PERMISSION DENIED for project"), AuthDenied},
		{"malformed", fmt.Errorf("%w: no inline image", ErrMalformed), Malformed},
		{"deadline", context.DeadlineExceeded, Transient},
		{"plain", errors.New("connection reset"), Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify(OpListTopics, tc.err)
			var ge *Error
			require.True(t, errors.As(err, &ge))
			assert.Equal(t, tc.want, ge.Reason)
			assert.Equal(t, OpListTopics, ge.Op)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	orig := &Error{Op: OpGenerateImage, Reason: Malformed, Err: ErrMalformed}
	assert.Same(t, orig, Classify(OpListTopics, orig))
	assert.Nil(t, Classify(OpListTopics, nil))
}

func TestIsAuthDenied(t *testing.T) {
	assert.True(t, IsAuthDenied(&Error{Op: OpListTopics, Reason: AuthDenied}))
	assert.True(t, IsAuthDenied(errors.New("request had invalid api key")))
	assert.True(t, IsAuthDenied(errors.New("Permission Denied")))
	assert.False(t, IsAuthDenied(&Error{Op: OpListTopics, Reason: Transient, Err: errors.New("timeout")}))
	assert.False(t, IsAuthDenied(nil))
}

type stubGateway struct {
	err error
}

func (s stubGateway) ListTopics(context.Context, domain.Credential) (domain.TopicList, error) {
	return domain.TopicList{"a"}, s.err
}

func (s stubGateway) GenerateSteps(context.Context, domain.Credential, string) (domain.TutorialContent, error) {
	return domain.TutorialContent{}, s.err
}

func (s stubGateway) GenerateImage(context.Context, domain.Credential, string) (domain.GeneratedImage, error) {
	return domain.GeneratedImage{}, s.err
}

func TestInstrumentClassifiesErrors(t *testing.T) {
	g := Instrument(stubGateway{err: statusErr{401}}, "stub", observability.New(), nil)

	_, err := g.GenerateSteps(context.Background(), "k", "Patch drywall")
	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, OpGenerateSteps, ge.Op)
	assert.Equal(t, AuthDenied, ge.Reason)

	topics, err := Instrument(stubGateway{}, "stub", nil, nil).ListTopics(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicList{"a"}, topics)
}

type releasingGateway struct {
	stubGateway
	released []domain.Credential
}

func (r *releasingGateway) Release(cred domain.Credential) { r.released = append(r.released, cred) }

func TestReleaseForwardsThroughInstrument(t *testing.T) {
	inner := &releasingGateway{}
	g := Instrument(inner, "stub", nil, nil)

	Release(g, "k1")
	Release(g, "")
	Release(stubGateway{}, "k2")

	assert.Equal(t, []domain.Credential{"k1"}, inner.released)
}

func TestPrompts(t *testing.T) {
	p := Prompts{}
	assert.Contains(t, p.Topics(), "12 common home repair topics")
	assert.Contains(t, p.Topics(), DefaultLanguage)
	assert.Contains(t, Prompts{Language: "English", TopicCount: 3}.Topics(), "3 common home repair topics written in English")
	assert.Contains(t, p.Steps("  Patch drywall "), `"Patch drywall"`)
	assert.Equal(t,
		"A minimalist, clean instructional illustration showing: hand on valve. White background, simple lines, limited color palette. Diagram style.",
		ImagePrompt(" hand on valve "),
	)
}
