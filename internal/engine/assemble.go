package engine

import (
	"github.com/rzline/CradleAI/internal/types"
)

// BuildRequestMessages flattens the framework skeleton and the injected
// history into the final ordered request. The skeleton's chat-history
// placeholder is replaced in place by the history messages; skeleton
// text goes through the character's regex scripts and every message
// through macro substitution before role normalization.
func BuildRequestMessages(skeleton []types.ChatMessage, history types.ChatHistoryEntity, scripts []types.RegexScript, mc MacroContext) []types.ChatMessage {
	merged := make([]types.ChatMessage, 0, len(skeleton)+len(history.Parts))
	for _, msg := range skeleton {
		if msg.IsChatHistoryPlaceholder {
			merged = append(merged, history.Parts...)
			continue
		}
		msg.Parts = []types.MessagePart{{Text: ApplyCharacterRegexScripts(msg.Text(), scripts)}}
		merged = append(merged, msg)
	}

	out := make([]types.ChatMessage, 0, len(merged))
	for _, msg := range merged {
		text := ReplacePlaceholders(msg.Text(), mc)
		if text == "" {
			continue
		}
		msg.Parts = []types.MessagePart{{Text: text}}
		msg.Role = normalizeRole(msg)
		out = append(out, msg)
	}
	return out
}

// normalizeRole maps every message into the two-role request space:
// model output stays "model", everything else (system prompts, world
// book content, memory summaries) is carried as "user".
func normalizeRole(msg types.ChatMessage) string {
	if msg.IsMemorySummary {
		return types.RoleUser
	}
	switch msg.Role {
	case types.RoleModel, types.RoleAssistant:
		return types.RoleModel
	default:
		return types.RoleUser
	}
}
