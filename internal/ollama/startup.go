package ollama

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// EnsureModel checks that Ollama is reachable and pulls model when it is
// missing.
func EnsureModel(ctx context.Context, c *Client, model string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !c.IsRunning(ctx) {
		return fmt.Errorf("ollama is not running at %s; start it with: ollama serve", c.baseURL)
	}
	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("listing ollama models: %w", err)
	}
	if ok {
		logger.Debug("ollama model ready", zap.String("model", model))
		return nil
	}

	logger.Info("pulling ollama model", zap.String("model", model))
	return c.Pull(ctx, model, func(p PullProgress) {
		if p.Total > 0 {
			logger.Debug("pull progress", zap.String("status", p.Status),
				zap.Float64("percent", float64(p.Completed)/float64(p.Total)*100))
		}
	})
}
