// Package charutil turns character definitions into the two structures
// the engine consumes: the flat list of candidate dynamic entries and
// the ordered prompt skeleton.
package charutil

import (
	"sort"
	"strings"

	"github.com/rzline/CradleAI/internal/types"
)

// Prompt identifiers with fixed meaning inside a preset order.
const (
	IdentifierChatHistory     = "chatHistory"
	IdentifierCharDescription = "charDescription"
	IdentifierCharPersonality = "charPersonality"
	IdentifierScenario        = "scenario"
	IdentifierDialogueExample = "dialogueExamples"
)

// ExtractDEntries flattens world-book entries and the author note into
// candidate dynamic entries. Disabled entries are dropped; entry names
// are walked in insertion-independent sorted order so repeated
// extraction over the same book is deterministic.
func ExtractDEntries(preset *types.Preset, worldBook *types.WorldBook, authorNote *types.AuthorNote) []types.ChatMessage {
	var entries []types.ChatMessage
	if worldBook != nil {
		for _, name := range sortedEntryNames(worldBook) {
			entry := worldBook.Entries[name]
			if entry.Disabled || strings.TrimSpace(entry.Content) == "" {
				continue
			}
			constant := entry.Constant
			position := entry.Position
			depth := entry.Depth
			entries = append(entries, types.ChatMessage{
				Name:           name,
				Role:           types.RoleUser,
				Parts:          []types.MessagePart{{Text: entry.Content}},
				Constant:       &constant,
				Position:       &position,
				InjectionDepth: &depth,
				Key:            append([]string(nil), entry.Key...),
			})
		}
	}

	if authorNote != nil && strings.TrimSpace(authorNote.Content) != "" {
		position := types.PositionInHistory
		depth := authorNote.InjectionDepth
		entries = append(entries, types.ChatMessage{
			Name:           "Author Note",
			Role:           types.RoleUser,
			Parts:          []types.MessagePart{{Text: authorNote.Content}},
			IsAuthorNote:   true,
			Position:       &position,
			InjectionDepth: &depth,
		})
	}
	return entries
}

func sortedEntryNames(worldBook *types.WorldBook) []string {
	names := make([]string, 0, len(worldBook.Entries))
	for name := range worldBook.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildFramework renders the preset's prompt order into the skeleton
// message sequence and returns it together with the chat-history stub.
// Exactly one element is flagged as the history splice point; when the
// preset never names one, a stub is appended at the end.
func BuildFramework(preset *types.Preset, roleCard *types.RoleCard, worldBook *types.WorldBook) ([]types.ChatMessage, types.ChatMessage) {
	var skeleton []types.ChatMessage
	historyStub := types.ChatMessage{
		Name:                     "Chat History",
		Role:                     types.RoleSystem,
		Identifier:               IdentifierChatHistory,
		IsChatHistoryPlaceholder: true,
	}
	placed := false

	for _, entry := range orderedEntries(preset) {
		prompt, ok := findPrompt(preset, entry.Identifier)
		if !ok {
			continue
		}
		if isChatHistoryIdentifier(entry.Identifier) {
			historyStub.Identifier = entry.Identifier
			skeleton = append(skeleton, historyStub)
			placed = true
			continue
		}
		text := promptText(prompt, roleCard)
		if strings.TrimSpace(text) == "" {
			continue
		}
		role := prompt.Role
		if role == "" {
			role = types.RoleUser
		}
		skeleton = append(skeleton, types.ChatMessage{
			Name:       prompt.Name,
			Role:       role,
			Identifier: prompt.Identifier,
			Parts:      []types.MessagePart{{Text: text}},
		})
	}

	if !placed {
		skeleton = append(skeleton, historyStub)
	}
	return skeleton, historyStub
}

func orderedEntries(preset *types.Preset) []types.PresetOrderEntry {
	if preset == nil {
		return nil
	}
	if len(preset.PromptOrder) > 0 && len(preset.PromptOrder[0].Order) > 0 {
		var enabled []types.PresetOrderEntry
		for _, e := range preset.PromptOrder[0].Order {
			if e.Enabled {
				enabled = append(enabled, e)
			}
		}
		return enabled
	}
	// Back-compatibility: presets without an explicit order render every
	// enabled prompt in declaration order.
	var entries []types.PresetOrderEntry
	for _, p := range preset.Prompts {
		if p.Enable != nil && !*p.Enable {
			continue
		}
		entries = append(entries, types.PresetOrderEntry{Identifier: p.Identifier, Enabled: true})
	}
	return entries
}

func findPrompt(preset *types.Preset, identifier string) (types.PresetPrompt, bool) {
	for _, p := range preset.Prompts {
		if p.Identifier == identifier {
			return p, true
		}
	}
	// Well-known identifiers render even without a matching prompt entry.
	switch identifier {
	case IdentifierCharDescription, IdentifierCharPersonality, IdentifierScenario, IdentifierDialogueExample:
		return types.PresetPrompt{Identifier: identifier}, true
	}
	if isChatHistoryIdentifier(identifier) {
		return types.PresetPrompt{Identifier: identifier}, true
	}
	return types.PresetPrompt{}, false
}

func promptText(prompt types.PresetPrompt, roleCard *types.RoleCard) string {
	if prompt.Content != "" || roleCard == nil {
		return prompt.Content
	}
	switch prompt.Identifier {
	case IdentifierCharDescription:
		return roleCard.Description
	case IdentifierCharPersonality:
		return roleCard.Personality
	case IdentifierScenario:
		return roleCard.Scenario
	case IdentifierDialogueExample:
		return roleCard.MesExample
	}
	return prompt.Content
}

func isChatHistoryIdentifier(identifier string) bool {
	return strings.Contains(strings.ToLower(identifier), "chathistory")
}
