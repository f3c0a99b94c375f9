package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"kingfisher/internal/model"
)

const DefaultBaseURL = "https://openrouter.ai/api/v1"

type Options struct {
	APIKey      string
	BaseURL     string
	Referer     string
	Title       string
	MinInterval time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	referer    string
	title      string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.MinInterval), 1)
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		referer:    strings.TrimSpace(opts.Referer),
		title:      strings.TrimSpace(opts.Title),
		limiter:    limiter,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// Invoke sends one chat completion request. Every failure is returned as a
// *model.CallError.
func (c *Client) Invoke(ctx context.Context, req model.Request) (model.Response, error) {
	if c.httpClient == nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: errors.New("http client is nil")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: fmt.Errorf("rate limiter: %w", err)}
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, Err: fmt.Errorf("request: %w", err)}
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("openrouter call", "model", req.Model, "status", httpResp.StatusCode, "dur_ms", time.Since(start).Milliseconds())

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return model.Response{}, &model.CallError{
			Model:      req.Model,
			StatusCode: httpResp.StatusCode,
			Message:    errorMessage(httpResp.Status, rawBody),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return model.Response{}, &model.CallError{Model: req.Model, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	// OpenRouter reports some upstream failures inside a 200 body.
	if decoded.Error != nil {
		return model.Response{}, &model.CallError{
			Model:      req.Model,
			StatusCode: errorCode(decoded.Error.Code),
			Message:    decoded.Error.Message,
		}
	}

	if len(decoded.Choices) == 0 {
		return model.Response{}, &model.CallError{Model: req.Model, StatusCode: httpResp.StatusCode, Message: "response has no choices"}
	}

	return toResponse(decoded.Choices[0].Message), nil
}

func buildRequest(req model.Request) chatRequest {
	parts := make([]contentPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		switch p.Type {
		case model.PartImage:
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: p.DataURL()}})
		default:
			parts = append(parts, contentPart{Type: "text", Text: p.Text})
		}
	}

	var modalities []string
	if len(req.Modalities) > 0 {
		modalities = append(modalities, req.Modalities...)
	}

	return chatRequest{
		Model:      req.Model,
		Messages:   []chatMessage{{Role: "user", Content: parts}},
		Modalities: modalities,
		MaxTokens:  req.MaxTokens,
	}
}

func toResponse(msg responseMessage) model.Response {
	var resp model.Response
	if msg.Content != nil {
		resp.Text = *msg.Content
		resp.HasText = true
	}

	if msg.Images != nil {
		resp.Images = make([]model.GeneratedImage, 0, len(msg.Images))
		for _, img := range msg.Images {
			resp.Images = append(resp.Images, model.GeneratedImage{URL: img.ImageURL.URL})
		}
	}

	return resp
}

func errorMessage(status string, body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return status + ": " + env.Error.Message
	}
	return status + ": " + strings.TrimSpace(string(body))
}

func errorCode(code any) int {
	switch v := code.(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return 0
}
