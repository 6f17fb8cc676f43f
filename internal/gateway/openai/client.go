package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/gateway"
	"github.com/yungbote/repairguide-backend/internal/normalization"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

const (
	DefaultBaseURL    = "https://api.openai.com"
	DefaultTextModel  = "gpt-4.1-mini"
	DefaultImageModel = "gpt-image-1"
	DefaultImageSize  = "1024x1024"

	DefaultMaxResponseBytes int64 = 32 << 20
)

type Config struct {
	BaseURL    string
	TextModel  string
	ImageModel string
	ImageSize  string
	Timeout    time.Duration
	Prompts    gateway.Prompts
	// MaxResponseBytes caps each response body; zero uses DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

// Client talks to an OpenAI-compatible API. The credential is sent per call as a bearer token.
type Client struct {
	log        *logger.Logger
	baseURL    string
	textModel  string
	imageModel string
	imageSize  string
	prompts    gateway.Prompts
	httpClient *http.Client
	maxBody    int64
}

var _ gateway.Gateway = (*Client)(nil)

func New(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return NewWithHTTPClient(cfg, log, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(cfg Config, log *logger.Logger, httpClient *http.Client) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    strings.TrimRight(firstNonEmpty(cfg.BaseURL, DefaultBaseURL), "/"),
		textModel:  firstNonEmpty(cfg.TextModel, DefaultTextModel),
		imageModel: firstNonEmpty(cfg.ImageModel, DefaultImageModel),
		imageSize:  firstNonEmpty(cfg.ImageSize, DefaultImageSize),
		prompts:    cfg.Prompts,
		httpClient: httpClient,
		maxBody:    maxBody,
	}
}

// errMissingKey classifies as AuthDenied through its message.
var errMissingKey = errors.New("missing api key")

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *Client) ListTopics(ctx context.Context, cred domain.Credential) (domain.TopicList, error) {
	raw, err := c.generateJSON(ctx, cred, gateway.OpListTopics, c.prompts.Topics(), "topic_list", gateway.TopicsSchema())
	if err != nil {
		return nil, err
	}
	return normalization.TopicList(raw), nil
}

func (c *Client) GenerateSteps(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, gateway.Classify(gateway.OpGenerateSteps, fmt.Errorf("%w: topic", gateway.ErrEmptyInput))
	}
	raw, err := c.generateJSON(ctx, cred, gateway.OpGenerateSteps, c.prompts.Steps(topic), "tutorial_steps", gateway.StepsSchema())
	if err != nil {
		return nil, err
	}
	return normalization.Steps(raw), nil
}

// -------------------- Responses API --------------------

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string         `json:"model"`
	Input []inputMessage `json:"input"`
	Text  struct {
		Format map[string]any `json:"format,omitempty"`
	} `json:"text,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

// generateJSON returns the raw model text. Shape checking is left to the normalizer.
func (c *Client) generateJSON(ctx context.Context, cred domain.Credential, op gateway.Op, user, schemaName string, schema map[string]any) ([]byte, error) {
	req := responsesRequest{
		Model: c.textModel,
		Input: []inputMessage{
			{Role: "system", Content: "Respond only with JSON matching the provided schema."},
			{Role: "user", Content: user},
		},
	}
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	var resp responsesResponse
	if err := c.do(ctx, cred, http.MethodPost, "/v1/responses", req, &resp); err != nil {
		return nil, gateway.Classify(op, err)
	}
	if resp.Refusal != "" {
		return nil, gateway.Classify(op, fmt.Errorf("%w: model refused: %s", gateway.ErrMalformed, resp.Refusal))
	}
	return []byte(extractOutputText(resp)), nil
}

// -------------------- Images API --------------------

type imagesGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"` // b64_json|url
}

type imagesGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func (c *Client) GenerateImage(ctx context.Context, cred domain.Credential, prompt string) (domain.GeneratedImage, error) {
	op := gateway.OpGenerateImage
	if strings.TrimSpace(prompt) == "" {
		return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: image prompt", gateway.ErrEmptyInput))
	}

	// gpt-image-* always returns b64_json and rejects the parameter.
	responseFormat := "b64_json"
	if strings.HasPrefix(strings.ToLower(c.imageModel), "gpt-image-") {
		responseFormat = ""
	}
	req := imagesGenerationRequest{
		Model:          c.imageModel,
		Prompt:         gateway.ImagePrompt(prompt),
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: responseFormat,
	}

	var resp imagesGenerationResponse
	if err := c.do(ctx, cred, http.MethodPost, "/v1/images/generations", req, &resp); err != nil {
		return domain.GeneratedImage{}, gateway.Classify(op, err)
	}
	if len(resp.Data) == 0 {
		return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: no image returned", gateway.ErrMalformed))
	}
	item := resp.Data[0]
	if b64 := strings.TrimSpace(item.B64JSON); b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(raw) == 0 {
			return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: decode image base64: %v", gateway.ErrMalformed, err))
		}
		return domain.NewGeneratedImage("image/png", raw), nil
	}
	if u := strings.TrimSpace(item.URL); u != "" {
		raw, ct, err := c.downloadBytes(ctx, cred, u)
		if err != nil {
			return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("download generated image: %w", err))
		}
		return domain.NewGeneratedImage(strings.TrimSpace(strings.Split(ct, ";")[0]), raw), nil
	}
	return domain.GeneratedImage{}, gateway.Classify(op, fmt.Errorf("%w: image response missing b64_json and url", gateway.ErrMalformed))
}

// -------------------- transport --------------------

func (c *Client) do(ctx context.Context, cred domain.Credential, method, path string, body any, out any) error {
	if cred.Empty() {
		return errMissingKey
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Reveal())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("openai request failed", "path", path, "status", resp.StatusCode)
		return statusError(resp)
	}
	raw, err := c.readBody(resp.Body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: openai decode error: %v", gateway.ErrMalformed, err)
	}
	return nil
}

func (c *Client) downloadBytes(ctx context.Context, cred domain.Credential, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	// Signed blob URLs break with an unrelated Authorization header.
	if shouldAttachAuth(c.baseURL, rawURL) {
		req.Header.Set("Authorization", "Bearer "+cred.Reveal())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", statusError(resp)
	}
	raw, err := c.readBody(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return raw, strings.TrimSpace(resp.Header.Get("Content-Type")), nil
}

const maxErrorBody = 64 << 10

// statusError keeps at most maxErrorBody bytes of a failed response.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
}

// errBodyTooLarge is transient: the call may succeed with a smaller payload.
var errBodyTooLarge = errors.New("openai response body exceeds limit")

func (c *Client) readBody(body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(body, c.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > c.maxBody {
		return nil, fmt.Errorf("%w (%d bytes)", errBodyTooLarge, c.maxBody)
	}
	return raw, nil
}

func shouldAttachAuth(baseURL, rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if bu, err := url.Parse(baseURL); err == nil && bu != nil {
		if baseHost := strings.ToLower(bu.Hostname()); baseHost != "" && host == baseHost {
			return true
		}
	}
	return host == "openai.com" || strings.HasSuffix(host, ".openai.com")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
