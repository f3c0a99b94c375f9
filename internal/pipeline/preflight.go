package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"kingfisher/internal/model"
)

const preflightPrompt = "Test"

// Preflight sends one minimal request to each model and fails on the first
// model that does not answer.
func Preflight(ctx context.Context, gw model.Gateway, logger *slog.Logger, models ...string) error {
	if gw == nil {
		return fmt.Errorf("%w: nil gateway", ErrConfig)
	}
	for _, id := range models {
		_, err := gw.Invoke(ctx, model.Request{
			Model:     id,
			Parts:     []model.Part{model.NewTextPart(preflightPrompt)},
			MaxTokens: 1,
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPreflight, id, err)
		}
		if logger != nil {
			logger.Info("model available", "model", id)
		}
	}
	return nil
}
