// Package provider builds the configured extraction client.
package provider

import (
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm/anthropic"
	"github.com/joseph-ayodele/invoice-dispatch/internal/llm/openai"
)

// New returns the provider client for cfg, rate limited when RequestsPerMin > 0.
func New(cfg common.LLMConfig, logger *slog.Logger) (llm.Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var client llm.Extractor
	switch cfg.Provider {
	case "openai":
		client = openai.NewClient(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, logger)
	case "anthropic":
		client = anthropic.NewClient(anthropic.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, logger)
	default:
		return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown llm provider %q", cfg.Provider), common.ErrInvalidInput)
	}

	logger.Info("llm.provider.ready", "provider", cfg.Provider, "model", cfg.Model, "requests_per_min", cfg.RequestsPerMin)
	return llm.NewRateLimited(client, cfg.RequestsPerMin, logger), nil
}
