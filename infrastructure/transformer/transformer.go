package transformer

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-restyle/core/config"
	"github.com/AzielCF/az-restyle/pipeline/domain"
)

// New builds the provider selected by cfg.Provider.
func New(ctx context.Context, cfg config.AIConfig, fetch *Fetcher, store domain.ObjectStore) (domain.Transformer, error) {
	switch cfg.Provider {
	case "", "gemini":
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiImageModel, fetch, store)
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIImageModel, fetch, store)
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
