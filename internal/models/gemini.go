package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/rzline/CradleAI/internal/types"
)

// GeminiAdapter talks to the Gemini API. It is the default provider
// and may be constructed without an API key; calls then fail with a
// clear error instead of the construction failing.
type GeminiAdapter struct {
	apiKey string
	model  string
	temp   *float64
	client *genai.Client
}

const defaultGeminiModel = "gemini-2.0-flash"

func NewGeminiAdapter(settings types.ProviderSettings) *GeminiAdapter {
	model := strings.TrimSpace(settings.GeminiModel)
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiAdapter{
		apiKey: strings.TrimSpace(settings.GeminiAPIKey),
		model:  model,
		temp:   settings.Temperature,
	}
}

func (a *GeminiAdapter) Name() string {
	return types.ProviderGemini
}

func (a *GeminiAdapter) ensureClient(ctx context.Context) (*genai.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.apiKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: a.apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	a.client = client
	return client, nil
}

func (a *GeminiAdapter) Generate(ctx context.Context, messages []types.ChatMessage) (string, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	contents := toGenaiContents(messages)
	resp, err := client.Models.GenerateContent(ctx, a.model, contents, a.baseConfig())
	if err != nil {
		return "", fmt.Errorf("failed to call Gemini API: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return text, nil
}

// GenerateWithTools runs at most one search_memory round: retrieved
// memories ride in as a system instruction, and if the model still
// calls the tool its results are fed back for a final answer.
func (a *GeminiAdapter) GenerateWithTools(ctx context.Context, messages []types.ChatMessage, env ToolEnv) (string, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	config := a.baseConfig()
	if block := formatMemoryBlock(env.Memories); block != "" {
		config.SystemInstruction = genai.NewContentFromText(block, "user")
	}
	if env.Search != nil {
		config.Tools = []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 searchMemoryToolName,
				Description:          "Search summarized memories of past conversations with this user.",
				ParametersJsonSchema: searchMemorySchema(),
			}},
		}}
	}

	contents := toGenaiContents(messages)
	resp, err := client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to call Gemini API: %w", err)
	}

	call := findFunctionCall(resp)
	if call == nil || env.Search == nil {
		text := responseText(resp)
		if text == "" {
			return "", fmt.Errorf("empty response from Gemini")
		}
		return text, nil
	}

	query, _ := call.Args["query"].(string)
	memories, err := env.Search(ctx, query)
	if err != nil {
		slog.Warn("memory search tool failed", "error", err.Error(), "query", query)
		memories = nil
	}

	contents = append(contents, resp.Candidates[0].Content)
	contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
		FunctionResponse: &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: map[string]any{"memories": memories},
		},
	}}, "user"))

	resp, err = client.Models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to call Gemini API after tool round: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return text, nil
}

func (a *GeminiAdapter) baseConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if a.temp != nil {
		t := float32(*a.temp)
		config.Temperature = &t
	}
	return config
}

func toGenaiContents(messages []types.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == types.RoleModel || msg.Role == types.RoleAssistant {
			role = "model"
		}
		contents = append(contents, genai.NewContentFromText(text, genai.Role(role)))
	}
	return contents
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

func findFunctionCall(resp *genai.GenerateContentResponse) *genai.FunctionCall {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.FunctionCall != nil && part.FunctionCall.Name == searchMemoryToolName {
			return part.FunctionCall
		}
	}
	return nil
}
