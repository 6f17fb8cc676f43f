package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	generativelanguage "cloud.google.com/go/ai/generativelanguage/apiv1beta"
	"cloud.google.com/go/ai/generativelanguage/apiv1beta/generativelanguagepb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/gateway"
	"github.com/yungbote/repairguide-backend/internal/normalization"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

const (
	DefaultTextModel  = "gemini-2.5-flash"
	DefaultImageModel = "gemini-2.5-flash-image"
	DefaultMaxClients = 256
)

// Generator is the subset of the Generative Language client the gateway calls.
type Generator interface {
	GenerateContent(ctx context.Context, req *generativelanguagepb.GenerateContentRequest, opts ...gax.CallOption) (*generativelanguagepb.GenerateContentResponse, error)
	Close() error
}

// ClientFactory dials one client for an API key.
type ClientFactory func(ctx context.Context, apiKey string) (Generator, error)

type Config struct {
	TextModel  string
	ImageModel string
	// Endpoint overrides the gRPC endpoint; empty uses the library default.
	Endpoint string
	// MaxClients caps cached clients; zero uses DefaultMaxClients.
	MaxClients int
	Prompts    gateway.Prompts
}

// cachedClient is one dialed client. A dropped client is closed once its last call returns.
type cachedClient struct {
	client   Generator
	users    int
	lastUsed uint64
	dropped  bool
}

type Gateway struct {
	cfg       Config
	log       *logger.Logger
	newClient ClientFactory

	mu      sync.Mutex
	clients map[string]*cachedClient // api key -> client
	tick    uint64
}

var (
	_ gateway.Gateway  = (*Gateway)(nil)
	_ gateway.Releaser = (*Gateway)(nil)
)

func New(cfg Config, log *logger.Logger) *Gateway {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	return NewWithFactory(cfg, log, func(ctx context.Context, apiKey string) (Generator, error) {
		opts := []option.ClientOption{option.WithAPIKey(apiKey)}
		if endpoint != "" {
			opts = append(opts, option.WithEndpoint(endpoint))
		}
		client, err := generativelanguage.NewGenerativeClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}

func NewWithFactory(cfg Config, log *logger.Logger, factory ClientFactory) *Gateway {
	if strings.TrimSpace(cfg.TextModel) == "" {
		cfg.TextModel = DefaultTextModel
	}
	if strings.TrimSpace(cfg.ImageModel) == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Gateway{
		cfg:       cfg,
		log:       log.With("component", "gemini"),
		newClient: factory,
		clients:   make(map[string]*cachedClient),
	}
}

func (g *Gateway) ListTopics(ctx context.Context, cred domain.Credential) (domain.TopicList, error) {
	raw, err := g.generateJSON(ctx, cred, gateway.OpListTopics, g.cfg.Prompts.Topics(), topicsSchema())
	if err != nil {
		return nil, err
	}
	return normalization.TopicList(raw), nil
}

func (g *Gateway) GenerateSteps(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, gateway.Classify(gateway.OpGenerateSteps, fmt.Errorf("%w: topic", gateway.ErrEmptyInput))
	}
	raw, err := g.generateJSON(ctx, cred, gateway.OpGenerateSteps, g.cfg.Prompts.Steps(topic), stepsSchema())
	if err != nil {
		return nil, err
	}
	return normalization.Steps(raw), nil
}

func (g *Gateway) GenerateImage(ctx context.Context, cred domain.Credential, prompt string) (domain.GeneratedImage, error) {
	op := gateway.OpGenerateImage
	if strings.TrimSpace(prompt) == "" {
		return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: image prompt", gateway.ErrEmptyInput))
	}
	req := &generativelanguagepb.GenerateContentRequest{
		Model:    modelName(g.cfg.ImageModel),
		Contents: []*generativelanguagepb.Content{userText(gateway.ImagePrompt(prompt))},
		GenerationConfig: &generativelanguagepb.GenerationConfig{
			ResponseModalities: []generativelanguagepb.GenerationConfig_Modality{
				generativelanguagepb.GenerationConfig_IMAGE,
			},
		},
	}
	resp, err := g.call(ctx, cred, op, req)
	if err != nil {
		return domain.GeneratedImage{}, err
	}
	for _, part := range firstCandidateParts(resp) {
		if blob := part.GetInlineData(); blob != nil && len(blob.GetData()) > 0 {
			return domain.NewGeneratedImage(blob.GetMimeType(), blob.GetData()), nil
		}
	}
	return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: no image was generated", gateway.ErrMalformed))
}

// Release drops the client cached for cred. Calls already running on it finish first.
func (g *Gateway) Release(cred domain.Credential) {
	if cred.Empty() {
		return
	}
	g.mu.Lock()
	e := g.clients[cred.Reveal()]
	closeNow := e != nil && g.dropLocked(cred.Reveal(), e)
	g.mu.Unlock()
	if closeNow {
		_ = e.client.Close()
	}
}

// Close releases every cached client.
func (g *Gateway) Close() error {
	g.mu.Lock()
	var idle []Generator
	for key, e := range g.clients {
		if g.dropLocked(key, e) {
			idle = append(idle, e.client)
		}
	}
	g.mu.Unlock()
	for _, c := range idle {
		_ = c.Close()
	}
	return nil
}

// Cached reports how many clients are currently cached.
func (g *Gateway) Cached() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Gateway) generateJSON(ctx context.Context, cred domain.Credential, op gateway.Op, prompt string, schema *generativelanguagepb.Schema) ([]byte, error) {
	req := &generativelanguagepb.GenerateContentRequest{
		Model:    modelName(g.cfg.TextModel),
		Contents: []*generativelanguagepb.Content{userText(prompt)},
		GenerationConfig: &generativelanguagepb.GenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}
	resp, err := g.call(ctx, cred, op, req)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, part := range firstCandidateParts(resp) {
		b.WriteString(part.GetText())
	}
	return []byte(b.String()), nil
}

func (g *Gateway) call(ctx context.Context, cred domain.Credential, op gateway.Op, req *generativelanguagepb.GenerateContentRequest) (*generativelanguagepb.GenerateContentResponse, error) {
	if cred.Empty() {
		return nil, &gateway.Error{Op: op, Reason: gateway.AuthDenied, Err: fmt.Errorf("%w: api key", gateway.ErrEmptyInput)}
	}
	key := cred.Reveal()
	e, err := g.acquire(ctx, key)
	if err != nil {
		return nil, gateway.Classify(op, fmt.Errorf("gemini client: %w", err))
	}
	resp, err := e.client.GenerateContent(ctx, req)
	if err != nil {
		err = gateway.Classify(op, err)
	}
	g.done(key, e, gateway.IsAuthDenied(err))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) acquire(ctx context.Context, key string) (*cachedClient, error) {
	g.mu.Lock()
	if e, ok := g.clients[key]; ok {
		g.useLocked(e)
		g.mu.Unlock()
		return e, nil
	}
	g.mu.Unlock()

	client, err := g.newClient(ctx, key)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if e, ok := g.clients[key]; ok {
		g.useLocked(e)
		g.mu.Unlock()
		_ = client.Close()
		return e, nil
	}
	e := &cachedClient{client: client}
	g.useLocked(e)
	g.clients[key] = e
	evicted := g.evictOverflowLocked(key)
	g.mu.Unlock()
	for _, c := range evicted {
		_ = c.Close()
	}
	return e, nil
}

// done ends one call on e. A rejected key is dropped so the next call re-dials.
func (g *Gateway) done(key string, e *cachedClient, rejected bool) {
	g.mu.Lock()
	e.users--
	if rejected && g.clients[key] == e {
		g.dropLocked(key, e)
		g.log.Debug("evicted rejected client")
	}
	closeNow := e.dropped && e.users == 0
	g.mu.Unlock()
	if closeNow {
		_ = e.client.Close()
	}
}

func (g *Gateway) useLocked(e *cachedClient) {
	g.tick++
	e.users++
	e.lastUsed = g.tick
}

// dropLocked removes e from the cache and reports whether the caller must close it now.
func (g *Gateway) dropLocked(key string, e *cachedClient) bool {
	if g.clients[key] == e {
		delete(g.clients, key)
	}
	if e.dropped {
		return false
	}
	e.dropped = true
	return e.users == 0
}

// evictOverflowLocked drops least recently used clients until the cache fits, never keep.
func (g *Gateway) evictOverflowLocked(keep string) []Generator {
	var idle []Generator
	for len(g.clients) > g.cfg.MaxClients {
		oldestKey := ""
		var oldest *cachedClient
		for key, e := range g.clients {
			if key == keep {
				continue
			}
			if oldest == nil || e.lastUsed < oldest.lastUsed {
				oldestKey, oldest = key, e
			}
		}
		if oldest == nil {
			break
		}
		if g.dropLocked(oldestKey, oldest) {
			idle = append(idle, oldest.client)
		}
	}
	return idle
}

func modelName(model string) string {
	model = strings.TrimSpace(model)
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func userText(text string) *generativelanguagepb.Content {
	return &generativelanguagepb.Content{
		Role: "user",
		Parts: []*generativelanguagepb.Part{
			{Data: &generativelanguagepb.Part_Text{Text: text}},
		},
	}
}

func firstCandidateParts(resp *generativelanguagepb.GenerateContentResponse) []*generativelanguagepb.Part {
	if resp == nil || len(resp.GetCandidates()) == 0 {
		return nil
	}
	return resp.GetCandidates()[0].GetContent().GetParts()
}
