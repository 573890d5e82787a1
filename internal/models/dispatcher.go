package models

import (
	"fmt"
	"log/slog"

	"github.com/rzline/CradleAI/internal/types"
)

// Resolve picks the adapter for the given settings. A selected provider
// wins only when it is enabled and fully configured; anything else
// falls through to the Gemini default, which tolerates a missing key
// until a call is made.
func Resolve(settings types.ProviderSettings, onDelta StreamHandler) (Adapter, error) {
	switch settings.Provider {
	case types.ProviderOpenRouter:
		if or := settings.OpenRouter; or != nil && or.Enabled && or.APIKey != "" && or.Model != "" {
			adapter, err := NewOpenRouterAdapter(settings, onDelta)
			if err != nil {
				return nil, fmt.Errorf("failed to configure openrouter adapter: %w", err)
			}
			return adapter, nil
		}
		slog.Warn("openrouter selected but not fully configured, falling back to gemini")
	case types.ProviderOpenAICompatible:
		if c := settings.OpenAICompatible; c != nil && c.Enabled && c.Endpoint != "" && c.APIKey != "" && c.Model != "" {
			adapter, err := NewOpenAICompatibleAdapter(settings, onDelta)
			if err != nil {
				return nil, fmt.Errorf("failed to configure openai-compatible adapter: %w", err)
			}
			return adapter, nil
		}
		slog.Warn("openai-compatible endpoint selected but not fully configured, falling back to gemini")
	case "", types.ProviderGemini:
	default:
		slog.Warn("unknown provider, falling back to gemini", "provider", settings.Provider)
	}
	return NewGeminiAdapter(settings), nil
}
