package models

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"

	"github.com/rzline/CradleAI/internal/types"
)

// buildChatParams assembles the OpenAI-dialect request shared by the
// OpenRouter and OpenAI-compatible adapters.
func buildChatParams(model string, messages []types.ChatMessage, settings types.ProviderSettings, withTools bool) *openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messagesToOpenAI(messages),
	}
	if settings.Temperature != nil {
		params.Temperature = openai.Float(*settings.Temperature)
	}
	if settings.OpenAICompatible != nil && settings.OpenAICompatible.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(settings.OpenAICompatible.MaxTokens))
	}
	if withTools {
		params.Tools = []openai.ChatCompletionToolUnionParam{searchMemoryOpenAITool()}
	}
	return &params
}

func searchMemoryOpenAITool() openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionToolUnionParam{
		OfFunction: &openai.ChatCompletionFunctionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        searchMemoryToolName,
				Description: openai.String("Search summarized memories of past conversations with this user."),
				Parameters:  schemaToFunctionParameters(searchMemorySchema()),
			},
		},
	}
}

// messagesToOpenAI maps the assembled request onto OpenAI chat
// messages. "model" is the assistant side; everything else rides as
// user content.
func messagesToOpenAI(messages []types.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text()
		if text == "" {
			continue
		}
		switch msg.Role {
		case types.RoleModel, types.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

// schemaToFunctionParameters converts a jsonschema.Schema into the raw
// JSON Schema map the OpenAI API expects.
func schemaToFunctionParameters(schema *jsonschema.Schema) openai.FunctionParameters {
	result := make(map[string]any)

	if schema.Type != "" {
		result["type"] = schema.Type
	} else {
		result["type"] = "object"
	}

	if len(schema.Properties) > 0 {
		properties := make(map[string]any)
		for name, prop := range schema.Properties {
			if prop != nil {
				properties[name] = schemaProperty(prop)
			}
		}
		result["properties"] = properties
	}

	if len(schema.Required) > 0 {
		result["required"] = schema.Required
	} else {
		result["required"] = []string{}
	}

	return openai.FunctionParameters(result)
}

func schemaProperty(schema *jsonschema.Schema) map[string]any {
	prop := make(map[string]any)
	if len(schema.Types) > 0 {
		prop["type"] = schema.Types[0]
	} else if schema.Type != "" {
		prop["type"] = schema.Type
	}
	if schema.Description != "" {
		prop["description"] = schema.Description
	}
	if len(schema.Enum) > 0 {
		prop["enum"] = schema.Enum
	}
	if schema.Items != nil {
		prop["items"] = schemaProperty(schema.Items)
	}
	if len(schema.Properties) > 0 {
		nested := make(map[string]any)
		for name, p := range schema.Properties {
			if p != nil {
				nested[name] = schemaProperty(p)
			}
		}
		prop["properties"] = nested
	}
	if len(schema.Required) > 0 {
		prop["required"] = schema.Required
	}
	return prop
}

func parseToolArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
