package main

import (
	"context"
	"log/slog"

	"kingfisher/internal/config"
	"kingfisher/internal/gemini"
	"kingfisher/internal/httpclient"
	"kingfisher/internal/model"
	"kingfisher/internal/openrouter"
)

func newGateway(ctx context.Context, cfg config.Config, logger *slog.Logger) (model.Gateway, error) {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	if cfg.Provider == config.ProviderGemini {
		client, err := gemini.New(ctx, gemini.Options{
			APIKey:      cfg.GeminiAPIKey,
			BaseURL:     cfg.GeminiBaseURL,
			MinInterval: cfg.ModelMinInterval,
			HTTPClient:  httpClient,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return openrouter.New(openrouter.Options{
		APIKey:      cfg.OpenRouterAPIKey,
		BaseURL:     cfg.OpenRouterBaseURL,
		Referer:     cfg.AppReferer,
		Title:       cfg.AppTitle,
		MinInterval: cfg.ModelMinInterval,
		HTTPClient:  httpClient,
		Logger:      logger,
	}), nil
}
