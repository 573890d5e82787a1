package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/rzline/CradleAI/internal/types"
)

// OpenAICompatibleAdapter speaks the OpenAI chat dialect against any
// compatible endpoint.
type OpenAICompatibleAdapter struct {
	client   *openai.Client
	name     string
	model    string
	stream   bool
	settings types.ProviderSettings
	onDelta  StreamHandler
}

type toolCallBuilder struct {
	Index int64
	ID    string
	Name  string
	Args  strings.Builder
}

func NewOpenAICompatibleAdapter(settings types.ProviderSettings, onDelta StreamHandler) (*OpenAICompatibleAdapter, error) {
	compat := settings.OpenAICompatible
	if compat == nil {
		return nil, fmt.Errorf("openai-compatible settings missing")
	}
	if compat.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if compat.Model == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(compat.APIKey),
		option.WithHeader("user-agent", userAgent("openai-go")),
	}
	if endpoint := strings.TrimSpace(compat.Endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	client := openai.NewClient(opts...)

	return &OpenAICompatibleAdapter{
		client:   &client,
		name:     types.ProviderOpenAICompatible,
		model:    compat.Model,
		stream:   compat.Stream,
		settings: settings,
		onDelta:  onDelta,
	}, nil
}

// NewOpenRouterAdapter reuses the OpenAI dialect against the
// OpenRouter gateway.
func NewOpenRouterAdapter(settings types.ProviderSettings, onDelta StreamHandler) (*OpenAICompatibleAdapter, error) {
	or := settings.OpenRouter
	if or == nil {
		return nil, fmt.Errorf("openrouter settings missing")
	}
	if or.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if or.Model == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	client := openai.NewClient(
		option.WithAPIKey(or.APIKey),
		option.WithBaseURL("https://openrouter.ai/api/v1"),
		option.WithHeader("user-agent", userAgent("openrouter-go")),
	)

	return &OpenAICompatibleAdapter{
		client:   &client,
		name:     types.ProviderOpenRouter,
		model:    or.Model,
		settings: settings,
		onDelta:  onDelta,
	}, nil
}

func userAgent(prefix string) string {
	return fmt.Sprintf("%s/%s go/%s", prefix, "1.0.0", strings.TrimPrefix(runtime.Version(), "go"))
}

func (a *OpenAICompatibleAdapter) Name() string {
	return a.name
}

func (a *OpenAICompatibleAdapter) Generate(ctx context.Context, messages []types.ChatMessage) (string, error) {
	params := buildChatParams(a.model, messages, a.settings, false)
	if a.stream {
		text, _, err := a.complete(ctx, params)
		return text, err
	}
	text, _, err := a.completeOnce(ctx, params)
	return text, err
}

// GenerateWithTools runs at most one search_memory round, mirroring
// the Gemini adapter's flow in the OpenAI dialect.
func (a *OpenAICompatibleAdapter) GenerateWithTools(ctx context.Context, messages []types.ChatMessage, env ToolEnv) (string, error) {
	withTools := env.Search != nil
	params := buildChatParams(a.model, messages, a.settings, withTools)
	if block := formatMemoryBlock(env.Memories); block != "" {
		params.Messages = append([]openai.ChatCompletionMessageParamUnion{openai.SystemMessage(block)}, params.Messages...)
	}

	text, calls, err := a.complete(ctx, params)
	if err != nil {
		return "", err
	}
	if len(calls) == 0 || !withTools {
		return text, nil
	}

	call := calls[0]
	query, _ := parseToolArgs(call.Args.String())["query"].(string)
	memories, err := env.Search(ctx, query)
	if err != nil {
		slog.Warn("memory search tool failed", "error", err.Error(), "query", query)
		memories = nil
	}

	params.Messages = append(params.Messages, openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			ToolCalls: []openai.ChatCompletionMessageToolCallUnionParam{{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Args.String(),
					},
				},
			}},
		},
	})
	params.Messages = append(params.Messages, openai.ToolMessage(formatMemoryBlock(memories), call.ID))
	params.Tools = nil

	final, _, err := a.complete(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to complete tool round: %w", err)
	}
	return final, nil
}

func (a *OpenAICompatibleAdapter) complete(ctx context.Context, params *openai.ChatCompletionNewParams) (string, []*toolCallBuilder, error) {
	if a.stream {
		return a.completeStreaming(ctx, params)
	}
	return a.completeOnce(ctx, params)
}

func (a *OpenAICompatibleAdapter) completeOnce(ctx context.Context, params *openai.ChatCompletionNewParams) (string, []*toolCallBuilder, error) {
	resp, err := a.client.Chat.Completions.New(ctx, *params)
	if err != nil {
		slog.Error("failed to call llm API", "error", err.Error(), "provider", a.name)
		return "", nil, fmt.Errorf("failed to call %s API: %w", a.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("empty response from %s", a.name)
	}

	message := resp.Choices[0].Message
	var calls []*toolCallBuilder
	for _, tc := range message.ToolCalls {
		if tc.Type != "function" {
			continue
		}
		builder := &toolCallBuilder{ID: tc.ID, Name: tc.Function.Name}
		builder.Args.WriteString(tc.Function.Arguments)
		calls = append(calls, builder)
	}

	text := strings.TrimSpace(message.Content)
	if text != "" && a.onDelta != nil {
		a.onDelta(text)
	}
	return text, calls, nil
}

func (a *OpenAICompatibleAdapter) completeStreaming(ctx context.Context, params *openai.ChatCompletionNewParams) (string, []*toolCallBuilder, error) {
	stream := a.client.Chat.Completions.NewStreaming(ctx, *params)
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Error("failed to close stream", "error", err.Error())
		}
	}()

	pendingTools := make(map[int64]*toolCallBuilder)
	var fullText strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			fullText.WriteString(choice.Delta.Content)
			if a.onDelta != nil {
				a.onDelta(choice.Delta.Content)
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			builder, exists := pendingTools[tc.Index]
			if !exists {
				builder = &toolCallBuilder{Index: tc.Index}
				pendingTools[tc.Index] = builder
			}
			if tc.ID != "" {
				builder.ID = tc.ID
			}
			if tc.Function.Name != "" {
				builder.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				builder.Args.WriteString(tc.Function.Arguments)
			}
		}
	}

	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", nil, fmt.Errorf("context cancelled: %w", err)
		}
		slog.Error("failed to stream call llm API", "error", err.Error(), "provider", a.name)
		return "", nil, fmt.Errorf("stream error: %w", err)
	}

	var indices []int64
	for k := range pendingTools {
		indices = append(indices, k)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	var calls []*toolCallBuilder
	for _, idx := range indices {
		calls = append(calls, pendingTools[idx])
	}

	return strings.TrimSpace(fullText.String()), calls, nil
}
