package engine

import (
	"context"
	"fmt"

	"github.com/rzline/CradleAI/internal/charutil"
	"github.com/rzline/CradleAI/internal/store"
	"github.com/rzline/CradleAI/internal/types"
)

// CharacterData bundles the documents seeded at character creation.
type CharacterData struct {
	RoleCard   *types.RoleCard
	WorldBook  *types.WorldBook
	Preset     *types.Preset
	AuthorNote *types.AuthorNote
}

// CreateCharacter seeds every per-conversation document: the four
// definition documents, the prompt skeleton, and a history holding the
// greeting with an initial injection pass over an empty base.
func (e *Engine) CreateCharacter(ctx context.Context, conversationID string, data CharacterData) error {
	if data.RoleCard == nil || data.WorldBook == nil || data.Preset == nil {
		return fmt.Errorf("%w: role card, world book and preset are required", ErrMissingData)
	}

	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixRole), data.RoleCard); err != nil {
		return fmt.Errorf("failed to save role card: %w", err)
	}
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixWorld), data.WorldBook); err != nil {
		return fmt.Errorf("failed to save world book: %w", err)
	}
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixPreset), data.Preset); err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	if data.AuthorNote != nil {
		if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixNote), data.AuthorNote); err != nil {
			return fmt.Errorf("failed to save author note: %w", err)
		}
	}

	skeleton, historyStub := charutil.BuildFramework(data.Preset, data.RoleCard, data.WorldBook)
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixContents), skeleton); err != nil {
		return fmt.Errorf("failed to save skeleton: %w", err)
	}

	history := seedHistory(data.RoleCard, historyStub.Identifier)
	entries := charutil.ExtractDEntries(data.Preset, data.WorldBook, data.AuthorNote)
	history = InsertDEntries(history, entries, "")
	return e.saveHistory(ctx, conversationID, history)
}

// UpdateCharacter overwrites the definition documents, rebuilds the
// skeleton, and re-injects the surviving history against the newest
// user text.
func (e *Engine) UpdateCharacter(ctx context.Context, conversationID string, data CharacterData) error {
	docs, err := e.loadDocuments(ctx, conversationID)
	if err != nil {
		return err
	}
	if data.RoleCard == nil {
		data.RoleCard = docs.roleCard
	}
	if data.WorldBook == nil {
		data.WorldBook = docs.worldBook
	}
	if data.Preset == nil {
		data.Preset = docs.preset
	}
	if data.AuthorNote == nil {
		data.AuthorNote = docs.authorNote
	}

	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixRole), data.RoleCard); err != nil {
		return fmt.Errorf("failed to save role card: %w", err)
	}
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixWorld), data.WorldBook); err != nil {
		return fmt.Errorf("failed to save world book: %w", err)
	}
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixPreset), data.Preset); err != nil {
		return fmt.Errorf("failed to save preset: %w", err)
	}
	if data.AuthorNote != nil {
		if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixNote), data.AuthorNote); err != nil {
			return fmt.Errorf("failed to save author note: %w", err)
		}
	}

	skeleton, _ := charutil.BuildFramework(data.Preset, data.RoleCard, data.WorldBook)
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixContents), skeleton); err != nil {
		return fmt.Errorf("failed to save skeleton: %w", err)
	}

	entries := charutil.ExtractDEntries(data.Preset, data.WorldBook, data.AuthorNote)
	history := InsertDEntries(docs.history, entries, lastUserText(docs.history.Parts))
	return e.saveHistory(ctx, conversationID, history)
}

// DeleteCharacterData removes every per-conversation document.
func (e *Engine) DeleteCharacterData(ctx context.Context, conversationID string) error {
	suffixes := []string{
		store.SuffixRole,
		store.SuffixWorld,
		store.SuffixPreset,
		store.SuffixNote,
		store.SuffixHistory,
		store.SuffixContents,
	}
	for _, suffix := range suffixes {
		if err := e.store.Delete(ctx, store.Key(conversationID, suffix)); err != nil {
			return fmt.Errorf("failed to delete %s document: %w", suffix, err)
		}
	}
	return e.store.Delete(ctx, store.CharacterSettingKey(conversationID))
}

// DeleteAIMessage removes the index-th AI message and its paired user
// message from the persisted history.
func (e *Engine) DeleteAIMessage(ctx context.Context, conversationID string, index int) error {
	return e.mutateHistory(ctx, conversationID, func(history types.ChatHistoryEntity) (types.ChatHistoryEntity, error) {
		return DeleteAIMessage(history, index)
	})
}

func (e *Engine) DeleteUserMessage(ctx context.Context, conversationID string, index int) error {
	return e.mutateHistory(ctx, conversationID, func(history types.ChatHistoryEntity) (types.ChatHistoryEntity, error) {
		return DeleteUserMessage(history, index)
	})
}

func (e *Engine) EditAIMessage(ctx context.Context, conversationID string, index int, newText string) error {
	return e.mutateHistory(ctx, conversationID, func(history types.ChatHistoryEntity) (types.ChatHistoryEntity, error) {
		return EditAIMessage(history, index, newText)
	})
}

func (e *Engine) EditUserMessage(ctx context.Context, conversationID string, index int, newText string) error {
	return e.mutateHistory(ctx, conversationID, func(history types.ChatHistoryEntity) (types.ChatHistoryEntity, error) {
		return EditUserMessage(history, index, newText)
	})
}

func (e *Engine) mutateHistory(ctx context.Context, conversationID string, mutate func(types.ChatHistoryEntity) (types.ChatHistoryEntity, error)) error {
	history, err := e.loadHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	mutated, err := mutate(history)
	if err != nil {
		return err
	}
	return e.saveHistory(ctx, conversationID, mutated)
}

// BackupChatHistory snapshots the current history under a timestamped key.
func (e *Engine) BackupChatHistory(ctx context.Context, conversationID string, timestamp int64) error {
	history, err := e.loadHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	history.Parts = stripDEntries(history.Parts)
	if err := e.store.Save(ctx, store.BackupKey(conversationID, timestamp), history); err != nil {
		return fmt.Errorf("failed to save history backup: %w", err)
	}
	return nil
}

// RestoreChatHistory replaces the history's messages wholesale with a
// previously captured snapshot, keeping the entity's identifier.
func (e *Engine) RestoreChatHistory(ctx context.Context, conversationID string, parts []types.ChatMessage) error {
	history, err := e.loadHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	history.Parts = parts
	return e.saveHistory(ctx, conversationID, history)
}

// RestoreChatHistoryFromBackup loads a timestamped snapshot and
// restores it.
func (e *Engine) RestoreChatHistoryFromBackup(ctx context.Context, conversationID string, timestamp int64) error {
	var backup types.ChatHistoryEntity
	ok, err := store.LoadJSON(ctx, e.store, store.BackupKey(conversationID, timestamp), &backup)
	if err != nil {
		return fmt.Errorf("failed to load history backup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: backup %d for %s", ErrMissingData, timestamp, conversationID)
	}
	return e.RestoreChatHistory(ctx, conversationID, backup.Parts)
}

// ResetChatHistory discards every real message and re-seeds the
// greeting, re-running injection with an empty base.
func (e *Engine) ResetChatHistory(ctx context.Context, conversationID string) error {
	docs, err := e.loadDocuments(ctx, conversationID)
	if err != nil {
		return err
	}
	history := seedHistory(docs.roleCard, docs.history.Identifier)
	entries := charutil.ExtractDEntries(docs.preset, e.resolveWorldbook(ctx, docs.worldBook), docs.authorNote)
	history = InsertDEntries(history, entries, "")
	return e.saveHistory(ctx, conversationID, history)
}

// SetGlobalPreset stores the preset override consulted on every turn.
func (e *Engine) SetGlobalPreset(ctx context.Context, cfg types.GlobalPresetConfig) error {
	if err := e.store.Save(ctx, store.KeyGlobalPreset, cfg); err != nil {
		return fmt.Errorf("failed to save global preset config: %w", err)
	}
	return nil
}

// SetGlobalWorldbook stores the shared worldbook merged with every
// character's own on each turn.
func (e *Engine) SetGlobalWorldbook(ctx context.Context, cfg types.GlobalWorldbookConfig) error {
	if err := e.store.Save(ctx, store.KeyGlobalWorldbook, cfg); err != nil {
		return fmt.Errorf("failed to save global worldbook config: %w", err)
	}
	return nil
}

// SetGlobalRegex stores the global regex script groups.
func (e *Engine) SetGlobalRegex(ctx context.Context, cfg types.GlobalRegexConfig) error {
	if err := e.store.Save(ctx, store.KeyGlobalRegex, cfg); err != nil {
		return fmt.Errorf("failed to save global regex config: %w", err)
	}
	return nil
}

// SetCustomUserSetting stores persona text, globally or bound to one
// character.
func (e *Engine) SetCustomUserSetting(ctx context.Context, characterID string, setting types.CustomUserSetting) error {
	key := store.CharacterSettingKey(characterID)
	if setting.Global {
		key = store.KeyGlobalUserSetting
	}
	if err := e.store.Save(ctx, key, setting); err != nil {
		return fmt.Errorf("failed to save custom user setting: %w", err)
	}
	return nil
}

func (e *Engine) loadHistory(ctx context.Context, conversationID string) (types.ChatHistoryEntity, error) {
	var history types.ChatHistoryEntity
	ok, err := store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixHistory), &history)
	if err != nil {
		return history, fmt.Errorf("failed to load chat history: %w", err)
	}
	if !ok {
		return history, fmt.Errorf("%w: chat history for %s", ErrMissingData, conversationID)
	}
	return history, nil
}

func seedHistory(roleCard *types.RoleCard, identifier string) types.ChatHistoryEntity {
	history := types.ChatHistoryEntity{
		Name:       roleCard.Name,
		Role:       types.RoleUser,
		Identifier: identifier,
	}
	if roleCard.FirstMes != "" {
		seed := types.NewTurn(types.RoleModel, roleCard.FirstMes)
		seed.IsFirstMes = true
		history.Parts = []types.ChatMessage{seed}
	}
	return history
}

func lastUserText(parts []types.ChatMessage) string {
	for i := len(parts) - 1; i >= 0; i-- {
		if !parts[i].IsDEntry && parts[i].Role == types.RoleUser {
			return parts[i].Text()
		}
	}
	return ""
}
