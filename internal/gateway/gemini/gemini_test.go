package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cloud.google.com/go/ai/generativelanguage/apiv1beta/generativelanguagepb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/gateway"
)

type fakeGenerator struct {
	mu     sync.Mutex
	reqs   []*generativelanguagepb.GenerateContentRequest
	resp   *generativelanguagepb.GenerateContentResponse
	err    error
	closed bool
}

func (f *fakeGenerator) GenerateContent(_ context.Context, req *generativelanguagepb.GenerateContentRequest, _ ...gax.CallOption) (*generativelanguagepb.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func (f *fakeGenerator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func textResponse(text string) *generativelanguagepb.GenerateContentResponse {
	return &generativelanguagepb.GenerateContentResponse{
		Candidates: []*generativelanguagepb.Candidate{{
			Content: &generativelanguagepb.Content{
				Role:  "model",
				Parts: []*generativelanguagepb.Part{{Data: &generativelanguagepb.Part_Text{Text: text}}},
			},
		}},
	}
}

func newTestGateway(fake *fakeGenerator, dials *int) *Gateway {
	return NewWithFactory(Config{}, nil, func(ctx context.Context, apiKey string) (Generator, error) {
		*dials++
		return fake, nil
	})
}

func TestListTopicsSendsSchemaAndNormalizes(t *testing.T) {
	fake := &fakeGenerator{resp: textResponse(`{"topics":["Consertar torneira", 3, "Trocar tomada"]}`)}
	dials := 0
	g := newTestGateway(fake, &dials)

	topics, err := g.ListTopics(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, domain.TopicList{"Consertar torneira", "Trocar tomada"}, topics)

	require.Len(t, fake.reqs, 1)
	req := fake.reqs[0]
	assert.Equal(t, "models/"+DefaultTextModel, req.GetModel())
	assert.Equal(t, "application/json", req.GetGenerationConfig().GetResponseMimeType())
	assert.Contains(t, req.GetGenerationConfig().GetResponseSchema().GetProperties(), "topics")
}

func TestClientCachedPerKey(t *testing.T) {
	fake := &fakeGenerator{resp: textResponse(`{"steps":[]}`)}
	dials := 0
	g := newTestGateway(fake, &dials)

	for i := 0; i < 3; i++ {
		_, err := g.GenerateSteps(context.Background(), "abc123", "Patch drywall")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, dials)

	_, err := g.GenerateSteps(context.Background(), "other", "Patch drywall")
	require.NoError(t, err)
	assert.Equal(t, 2, dials)
}

func TestAuthFailureEvictsClient(t *testing.T) {
	fake := &fakeGenerator{err: status.Error(codes.PermissionDenied, "API key not valid")}
	dials := 0
	g := newTestGateway(fake, &dials)

	_, err := g.ListTopics(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, gateway.IsAuthDenied(err))
	assert.True(t, fake.closed)

	_, _ = g.ListTopics(context.Background(), "bad")
	assert.Equal(t, 2, dials, "rejected key must be re-dialed")
}

func TestGenerateStepsRejectsEmptyTopic(t *testing.T) {
	fake := &fakeGenerator{}
	dials := 0
	g := newTestGateway(fake, &dials)

	_, err := g.GenerateSteps(context.Background(), "abc123", "  ")
	require.ErrorIs(t, err, gateway.ErrEmptyInput)
	assert.Empty(t, fake.reqs)
}

func TestGenerateImageReturnsDataURI(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	fake := &fakeGenerator{resp: &generativelanguagepb.GenerateContentResponse{
		Candidates: []*generativelanguagepb.Candidate{{
			Content: &generativelanguagepb.Content{Parts: []*generativelanguagepb.Part{
				{Data: &generativelanguagepb.Part_Text{Text: "here you go"}},
				{Data: &generativelanguagepb.Part_InlineData{InlineData: &generativelanguagepb.Blob{MimeType: "image/png", Data: png}}},
			}},
		}},
	}}
	dials := 0
	g := newTestGateway(fake, &dials)

	img, err := g.GenerateImage(context.Background(), "abc123", "hand with putty knife")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(png), img.DataURI)

	req := fake.reqs[0]
	assert.Equal(t, "models/"+DefaultImageModel, req.GetModel())
	assert.Equal(t,
		[]generativelanguagepb.GenerationConfig_Modality{generativelanguagepb.GenerationConfig_IMAGE},
		req.GetGenerationConfig().GetResponseModalities(),
	)
	assert.Contains(t, req.GetContents()[0].GetParts()[0].GetText(), "hand with putty knife")
}

func TestGenerateImageWithoutInlineDataIsMalformed(t *testing.T) {
	fake := &fakeGenerator{resp: textResponse("sorry, text only")}
	dials := 0
	g := newTestGateway(fake, &dials)

	_, err := g.GenerateImage(context.Background(), "abc123", "hand with putty knife")
	var ge *gateway.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, gateway.Malformed, ge.Reason)
}

func TestCloseReleasesClients(t *testing.T) {
	fake := &fakeGenerator{resp: textResponse(`{}`)}
	dials := 0
	g := newTestGateway(fake, &dials)
	_, err := g.ListTopics(context.Background(), "abc123")
	require.NoError(t, err)

	require.NoError(t, g.Close())
	assert.True(t, fake.closed)
}

type keyedFakes struct {
	mu    sync.Mutex
	byKey map[string]*fakeGenerator
	order []string
}

func (k *keyedFakes) factory(resp *generativelanguagepb.GenerateContentResponse) ClientFactory {
	return func(ctx context.Context, apiKey string) (Generator, error) {
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.byKey == nil {
			k.byKey = map[string]*fakeGenerator{}
		}
		f := &fakeGenerator{resp: resp}
		k.byKey[apiKey] = f
		k.order = append(k.order, apiKey)
		return f, nil
	}
}

func (k *keyedFakes) closed(key string) bool {
	k.mu.Lock()
	f := k.byKey[key]
	k.mu.Unlock()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestReleaseClosesCachedClient(t *testing.T) {
	fakes := &keyedFakes{}
	g := NewWithFactory(Config{}, nil, fakes.factory(textResponse(`{"topics":["a"]}`)))

	_, err := g.ListTopics(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, 1, g.Cached())

	g.Release("abc123")
	assert.True(t, fakes.closed("abc123"))
	assert.Equal(t, 0, g.Cached())

	g.Release("abc123")
	g.Release("never-used")

	_, err = g.ListTopics(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Len(t, fakes.order, 2, "released key must be re-dialed")
}

type blockingGenerator struct {
	fakeGenerator
	started chan struct{}
	unblock chan struct{}
}

func (b *blockingGenerator) GenerateContent(ctx context.Context, req *generativelanguagepb.GenerateContentRequest, opts ...gax.CallOption) (*generativelanguagepb.GenerateContentResponse, error) {
	close(b.started)
	<-b.unblock
	return b.fakeGenerator.GenerateContent(ctx, req, opts...)
}

func TestReleaseWaitsForRunningCall(t *testing.T) {
	b := &blockingGenerator{
		fakeGenerator: fakeGenerator{resp: textResponse(`{"topics":["a"]}`)},
		started:       make(chan struct{}),
		unblock:       make(chan struct{}),
	}
	g := NewWithFactory(Config{}, nil, func(ctx context.Context, apiKey string) (Generator, error) {
		return b, nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := g.ListTopics(context.Background(), "abc123")
		errc <- err
	}()
	<-b.started

	g.Release("abc123")
	assert.Equal(t, 0, g.Cached())
	b.mu.Lock()
	assert.False(t, b.closed, "client closed under a running call")
	b.mu.Unlock()

	close(b.unblock)
	require.NoError(t, <-errc)
	b.mu.Lock()
	assert.True(t, b.closed)
	b.mu.Unlock()
}

func TestClientCacheIsBounded(t *testing.T) {
	fakes := &keyedFakes{}
	g := NewWithFactory(Config{MaxClients: 3}, nil, fakes.factory(textResponse(`{"topics":["a"]}`)))

	for i := 0; i < 10; i++ {
		_, err := g.ListTopics(context.Background(), domain.Credential(fmt.Sprintf("key-%02d", i)))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, g.Cached())
	closed := 0
	for _, key := range fakes.order {
		if fakes.closed(key) {
			closed++
		}
	}
	assert.Equal(t, 7, closed)
	for _, key := range []string{"key-07", "key-08", "key-09"} {
		assert.False(t, fakes.closed(key), key)
	}
}

func TestRecentlyUsedClientSurvivesEviction(t *testing.T) {
	fakes := &keyedFakes{}
	g := NewWithFactory(Config{MaxClients: 2}, nil, fakes.factory(textResponse(`{"topics":["a"]}`)))
	ctx := context.Background()

	for _, key := range []domain.Credential{"a", "b", "a", "c"} {
		_, err := g.ListTopics(ctx, key)
		require.NoError(t, err)
	}

	assert.False(t, fakes.closed("a"))
	assert.True(t, fakes.closed("b"))
	assert.False(t, fakes.closed("c"))
}
