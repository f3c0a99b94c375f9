package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"kingfisher/internal/model"
)

type Options struct {
	APIKey      string
	BaseURL     string
	MinInterval time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client is the Gemini-native Gateway backend.
type Client struct {
	models  generator
	limiter *rate.Limiter
	logger  *slog.Logger
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}

	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newWithGenerator(client.Models, opts), nil
}

func newWithGenerator(models generator, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}

	return &Client{
		models:  models,
		limiter: limiter,
		logger:  logger,
	}
}

func (c *Client) Invoke(ctx context.Context, req model.Request) (model.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	parts, err := buildParts(req.Parts)
	if err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: err}
	}

	config := &genai.GenerateContentConfig{}
	for _, m := range req.Modalities {
		config.ResponseModalities = append(config.ResponseModalities, strings.ToUpper(m))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, req.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return model.Response{}, toCallError(req.Model, err)
	}
	c.logger.Debug("gemini call", "model", req.Model, "dur_ms", time.Since(start).Milliseconds())

	if resp == nil || len(resp.Candidates) == 0 {
		return model.Response{}, &model.CallError{Model: req.Model, Message: "response has no candidates"}
	}

	return extractParts(resp.Candidates[0]), nil
}

func buildParts(in []model.Part) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(in))
	for i, p := range in {
		if p.Type != model.PartImage {
			parts = append(parts, genai.NewPartFromText(p.Text))
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			return nil, fmt.Errorf("decode image part %d: %w", i, err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, p.MimeType))
	}
	return parts, nil
}

// extractParts mirrors the chat-completions shape: text is concatenated and
// inline data becomes data URLs. genai has no separate images field, so
// Images is always non-nil here and "field absent" never occurs on this
// backend; a reply without inline data reads as present but empty.
func extractParts(cand *genai.Candidate) model.Response {
	resp := model.Response{Images: []model.GeneratedImage{}}
	if cand == nil || cand.Content == nil {
		return resp
	}

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		if p.Text != "" {
			text.WriteString(p.Text)
			resp.HasText = true
		}
		if p.InlineData != nil && len(p.InlineData.Data) > 0 && p.InlineData.MIMEType != "" {
			resp.Images = append(resp.Images, model.GeneratedImage{
				URL: fmt.Sprintf("data:%s;base64,%s", p.InlineData.MIMEType, base64.StdEncoding.EncodeToString(p.InlineData.Data)),
			})
		}
	}
	resp.Text = text.String()
	return resp
}

func toCallError(modelID string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &model.CallError{Model: modelID, StatusCode: apiErr.Code, Message: strings.TrimSpace(apiErr.Status + " " + apiErr.Message), Err: err}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &model.CallError{Model: modelID, StatusCode: apiErrPtr.Code, Message: strings.TrimSpace(apiErrPtr.Status + " " + apiErrPtr.Message), Err: err}
	}
	return &model.CallError{Model: modelID, Err: err}
}
