package engine

import (
	"errors"

	"github.com/rzline/CradleAI/internal/types"
)

// Sentinel errors crossing the engine's public boundary.
var (
	// ErrMissingData marks an operation whose required documents
	// (role card, world book, preset, history) are absent.
	ErrMissingData = errors.New("required character data not found")
	// ErrIndexOutOfRange marks an edit/delete/regenerate addressed
	// outside the derived index space; state is left untouched.
	ErrIndexOutOfRange = errors.New("message index out of range")
	// ErrNoUserMessage marks a paired mutation that found no
	// counterpart user turn for the targeted message.
	ErrNoUserMessage = errors.New("no matching user message")
)

// UpdateChatHistory folds one exchange into the history: stale dynamic
// entries are stripped, the user and AI turns are appended unless an
// identical role+text message already exists, and the candidates are
// re-merged with the user text as base.
func UpdateChatHistory(history types.ChatHistoryEntity, userText, aiText string, entries []types.ChatMessage) types.ChatHistoryEntity {
	clean := stripDEntries(history.Parts)

	if !containsTurn(clean, types.RoleUser, userText) {
		clean = append(clean, types.NewTurn(types.RoleUser, userText))
	}
	if aiText != "" && !containsTurn(clean, types.RoleModel, aiText) {
		clean = append(clean, types.NewTurn(types.RoleModel, aiText))
	}

	history.Parts = clean
	return InsertDEntries(history, entries, userText)
}

func containsTurn(parts []types.ChatMessage, role, text string) bool {
	for _, msg := range parts {
		if msg.Role == role && msg.Text() == text {
			return true
		}
	}
	return false
}

func isAIMessage(msg types.ChatMessage) bool {
	return msg.Role == types.RoleModel || msg.Role == types.RoleAssistant
}

// aiMessagePositions maps the 1-based AI-index space onto positions in
// parts: non-dynamic model/assistant messages, the seed greeting excluded.
func aiMessagePositions(parts []types.ChatMessage) []int {
	var idx []int
	for i, msg := range parts {
		if !msg.IsDEntry && isAIMessage(msg) && !msg.IsFirstMes {
			idx = append(idx, i)
		}
	}
	return idx
}

// userMessagePositions is the user-index counterpart.
func userMessagePositions(parts []types.ChatMessage) []int {
	var idx []int
	for i, msg := range parts {
		if !msg.IsDEntry && msg.Role == types.RoleUser && !msg.IsFirstMes {
			idx = append(idx, i)
		}
	}
	return idx
}

// DeleteAIMessage removes the index-th AI message together with the
// nearest preceding non-dynamic user message. Dynamic entries already
// persisted are preserved; they get recomputed on the next turn anyway.
func DeleteAIMessage(history types.ChatHistoryEntity, index int) (types.ChatHistoryEntity, error) {
	aiPos := aiMessagePositions(history.Parts)
	if index < 1 || index > len(aiPos) {
		return history, ErrIndexOutOfRange
	}
	target := aiPos[index-1]

	userPos := -1
	for i := target - 1; i >= 0; i-- {
		msg := history.Parts[i]
		if !msg.IsDEntry && msg.Role == types.RoleUser {
			userPos = i
			break
		}
	}
	if userPos == -1 {
		return history, ErrNoUserMessage
	}

	history.Parts = removeAt(history.Parts, target, userPos)
	return history, nil
}

// DeleteUserMessage removes the index-th user message together with the
// nearest following non-dynamic model/assistant message (when one exists).
func DeleteUserMessage(history types.ChatHistoryEntity, index int) (types.ChatHistoryEntity, error) {
	userPos := userMessagePositions(history.Parts)
	if index < 1 || index > len(userPos) {
		return history, ErrIndexOutOfRange
	}
	target := userPos[index-1]

	aiPos := -1
	for i := target + 1; i < len(history.Parts); i++ {
		msg := history.Parts[i]
		if !msg.IsDEntry && isAIMessage(msg) {
			aiPos = i
			break
		}
	}

	history.Parts = removeAt(history.Parts, target, aiPos)
	return history, nil
}

// EditAIMessage replaces only the text of the index-th AI message; all
// flags stay intact and no re-injection happens.
func EditAIMessage(history types.ChatHistoryEntity, index int, newText string) (types.ChatHistoryEntity, error) {
	aiPos := aiMessagePositions(history.Parts)
	if index < 1 || index > len(aiPos) {
		return history, ErrIndexOutOfRange
	}
	return editAt(history, aiPos[index-1], newText), nil
}

// EditUserMessage is the user-index counterpart of EditAIMessage.
func EditUserMessage(history types.ChatHistoryEntity, index int, newText string) (types.ChatHistoryEntity, error) {
	userPos := userMessagePositions(history.Parts)
	if index < 1 || index > len(userPos) {
		return history, ErrIndexOutOfRange
	}
	return editAt(history, userPos[index-1], newText), nil
}

func editAt(history types.ChatHistoryEntity, pos int, newText string) types.ChatHistoryEntity {
	parts := make([]types.ChatMessage, len(history.Parts))
	copy(parts, history.Parts)
	edited := parts[pos]
	edited.Parts = []types.MessagePart{{Text: newText}}
	parts[pos] = edited
	history.Parts = parts
	return history
}

func removeAt(parts []types.ChatMessage, positions ...int) []types.ChatMessage {
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		if p >= 0 {
			drop[p] = true
		}
	}
	kept := make([]types.ChatMessage, 0, len(parts))
	for i, msg := range parts {
		if !drop[i] {
			kept = append(kept, msg)
		}
	}
	return kept
}

// TruncateToUserMessage cuts the history to everything up to and
// including the non-dynamic user message at position userPos, keeping
// any dynamic entries already present in that prefix.
func TruncateToUserMessage(history types.ChatHistoryEntity, userPos int) types.ChatHistoryEntity {
	history.Parts = append([]types.ChatMessage(nil), history.Parts[:userPos+1]...)
	return history
}
