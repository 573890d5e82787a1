// Package models provides the adapters for the supported model providers.
package models

import (
	"context"

	"github.com/rzline/CradleAI/internal/types"
)

// ToolEnv carries the retrieved memory context for a tool-augmented
// call. Search is invoked when the model asks for more memories; a nil
// Search disables the tool round.
type ToolEnv struct {
	Memories []string
	Search   func(ctx context.Context, query string) ([]string, error)
}

// Adapter is a single model provider. Messages arrive already assembled
// and role-normalized ("user"/"model").
type Adapter interface {
	Name() string
	Generate(ctx context.Context, messages []types.ChatMessage) (string, error)
	GenerateWithTools(ctx context.Context, messages []types.ChatMessage, env ToolEnv) (string, error)
}

// StreamHandler receives incremental output text. Adapters that do not
// stream call it once with the full response.
type StreamHandler func(delta string)
