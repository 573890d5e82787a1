// Package engine assembles provider requests from character data and
// rolling chat history, and folds responses back through index-stable
// mutation operations.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rzline/CradleAI/internal/charutil"
	"github.com/rzline/CradleAI/internal/memory"
	"github.com/rzline/CradleAI/internal/models"
	"github.com/rzline/CradleAI/internal/store"
	"github.com/rzline/CradleAI/internal/types"
)

// Engine drives conversations for any number of characters. It holds
// no per-conversation state; callers must serialize operations against
// the same conversation id.
type Engine struct {
	store    store.Store
	adapter  models.Adapter
	settings types.ProviderSettings
	mem      *memory.Service
	diag     Diagnostics
	userName string
	onDelta  models.StreamHandler
}

// Option configures optional collaborators.
type Option func(*Engine)

func WithMemory(mem *memory.Service) Option {
	return func(e *Engine) { e.mem = mem }
}

func WithDiagnostics(diag Diagnostics) Option {
	return func(e *Engine) { e.diag = diag }
}

func WithUserName(name string) Option {
	return func(e *Engine) { e.userName = name }
}

func WithStreamHandler(onDelta models.StreamHandler) Option {
	return func(e *Engine) { e.onDelta = onDelta }
}

// WithAdapter pins a specific adapter, bypassing settings-based
// resolution.
func WithAdapter(adapter models.Adapter) Option {
	return func(e *Engine) { e.adapter = adapter }
}

func New(st store.Store, settings types.ProviderSettings, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    st,
		diag:     NopDiagnostics{},
		userName: "User",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.adapter == nil {
		if err := e.UpdateProviderSettings(settings); err != nil {
			return nil, err
		}
	} else {
		e.settings = settings
	}
	return e, nil
}

// UpdateProviderSettings re-resolves the adapter. Called once at
// construction and again whenever provider configuration changes.
func (e *Engine) UpdateProviderSettings(settings types.ProviderSettings) error {
	adapter, err := models.Resolve(settings, e.onDelta)
	if err != nil {
		return fmt.Errorf("failed to resolve provider adapter: %w", err)
	}
	e.adapter = adapter
	e.settings = settings
	return nil
}

// ContinueChat runs one full user turn: load documents, rewrite input,
// inject dynamic entries, assemble, dispatch, rewrite output, persist.
func (e *Engine) ContinueChat(ctx context.Context, conversationID, userText string) (string, error) {
	docs, err := e.loadDocuments(ctx, conversationID)
	if err != nil {
		return "", err
	}

	preset, globalPresetActive := e.resolvePreset(ctx, docs.preset)
	worldBook := e.resolveWorldbook(ctx, docs.worldBook)

	skeleton, rebuilt := e.loadSkeleton(ctx, conversationID, preset, docs.roleCard, worldBook, globalPresetActive)

	rules := e.loadGlobalRules(ctx)
	processedInput := ApplyGlobalRegexScripts(userText, rules, PlacementUserInput, conversationID)

	entries := charutil.ExtractDEntries(preset, worldBook, docs.authorNote)
	entries = append(entries, e.customSettingEntries(ctx, conversationID)...)

	history := UpdateChatHistory(docs.history, processedInput, "", entries)

	if e.mem != nil {
		summarized, changed, err := e.mem.CheckAndSummarize(ctx, conversationID, conversationID, history)
		if err != nil {
			slog.Warn("failed to summarize history, continuing without", "error", err.Error(), "conversation_id", conversationID)
		} else if changed {
			history = summarized
		}
	}

	response, err := e.ProcessChat(ctx, conversationID, skeleton, history, docs.roleCard, processedInput)
	if err != nil {
		return "", err
	}
	response = ApplyGlobalRegexScripts(response, rules, PlacementAIOutput, conversationID)

	history = UpdateChatHistory(history, processedInput, response, entries)
	if err := e.saveHistory(ctx, conversationID, history); err != nil {
		return "", err
	}
	if rebuilt {
		if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixContents), skeleton); err != nil {
			slog.Warn("failed to persist rebuilt skeleton", "error", err.Error(), "conversation_id", conversationID)
		}
	}
	return response, nil
}

// ProcessChat is the assembly and dispatch half of a turn, callable
// with an already prepared history.
func (e *Engine) ProcessChat(ctx context.Context, conversationID string, skeleton []types.ChatMessage, history types.ChatHistoryEntity, roleCard *types.RoleCard, rawUserText string) (string, error) {
	mc := MacroContext{
		LastMessage: rawUserText,
		CharName:    roleCard.Name,
		UserName:    e.userName,
		History:     history.Parts,
	}
	messages := BuildRequestMessages(skeleton, history, characterScripts(roleCard), mc)
	e.diag.RequestAssembled(conversationID, messages)

	var memories []string
	if e.mem != nil {
		found, err := e.mem.SearchMemories(ctx, conversationID, rawUserText)
		if err != nil {
			slog.Warn("memory search failed, continuing without", "error", err.Error(), "conversation_id", conversationID)
		} else {
			memories = found
		}
	}

	var response string
	var err error
	if len(memories) > 0 {
		env := models.ToolEnv{Memories: memories}
		if e.mem != nil {
			env.Search = func(ctx context.Context, query string) ([]string, error) {
				return e.mem.SearchMemories(ctx, conversationID, query)
			}
		}
		response, err = e.adapter.GenerateWithTools(ctx, messages, env)
	} else {
		response, err = e.adapter.Generate(ctx, messages)
	}
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	e.diag.ResponseReceived(conversationID, e.adapter.Name(), response)
	return response, nil
}

// RegenerateFromMessage discards the AI message at the 1-based index
// and everything after it, then reruns the turn from the recovered
// user text. Index 0 restores the role card's original greeting
// without a provider call.
func (e *Engine) RegenerateFromMessage(ctx context.Context, conversationID string, index int) (string, error) {
	docs, err := e.loadDocuments(ctx, conversationID)
	if err != nil {
		return "", err
	}
	history := docs.history

	if index == 0 {
		greeting := docs.roleCard.FirstMes
		restored := false
		for i, msg := range history.Parts {
			if msg.IsFirstMes {
				history = editAt(history, i, greeting)
				restored = true
				break
			}
		}
		if !restored {
			seed := types.NewTurn(types.RoleModel, greeting)
			seed.IsFirstMes = true
			history.Parts = append([]types.ChatMessage{seed}, history.Parts...)
		}
		if err := e.saveHistory(ctx, conversationID, history); err != nil {
			return "", err
		}
		return greeting, nil
	}

	aiPos := aiMessagePositions(history.Parts)
	if index < 1 || index > len(aiPos) {
		return "", ErrIndexOutOfRange
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
		return "", ErrNoUserMessage
	}
	userText := history.Parts[userPos].Text()

	truncated := TruncateToUserMessage(history, userPos)
	if err := e.saveHistory(ctx, conversationID, truncated); err != nil {
		return "", err
	}

	return e.ContinueChat(ctx, conversationID, userText)
}

type documents struct {
	roleCard   *types.RoleCard
	worldBook  *types.WorldBook
	preset     *types.Preset
	authorNote *types.AuthorNote
	history    types.ChatHistoryEntity
}

func (e *Engine) loadDocuments(ctx context.Context, conversationID string) (documents, error) {
	var docs documents

	var roleCard types.RoleCard
	ok, err := store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixRole), &roleCard)
	if err != nil {
		return docs, fmt.Errorf("failed to load role card: %w", err)
	}
	if !ok {
		return docs, fmt.Errorf("%w: role card for %s", ErrMissingData, conversationID)
	}

	var worldBook types.WorldBook
	ok, err = store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixWorld), &worldBook)
	if err != nil {
		return docs, fmt.Errorf("failed to load world book: %w", err)
	}
	if !ok {
		return docs, fmt.Errorf("%w: world book for %s", ErrMissingData, conversationID)
	}

	var preset types.Preset
	ok, err = store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixPreset), &preset)
	if err != nil {
		return docs, fmt.Errorf("failed to load preset: %w", err)
	}
	if !ok {
		return docs, fmt.Errorf("%w: preset for %s", ErrMissingData, conversationID)
	}

	var note types.AuthorNote
	if ok, err := store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixNote), &note); err == nil && ok {
		docs.authorNote = &note
	}

	var history types.ChatHistoryEntity
	ok, err = store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixHistory), &history)
	if err != nil {
		return docs, fmt.Errorf("failed to load chat history: %w", err)
	}
	if !ok {
		return docs, fmt.Errorf("%w: chat history for %s", ErrMissingData, conversationID)
	}

	docs.roleCard = &roleCard
	docs.worldBook = &worldBook
	docs.preset = &preset
	docs.history = history
	return docs, nil
}

// resolvePreset swaps in the global preset when one is enabled. The
// returned flag forces a skeleton rebuild for this turn.
func (e *Engine) resolvePreset(ctx context.Context, own *types.Preset) (*types.Preset, bool) {
	var cfg types.GlobalPresetConfig
	ok, err := store.LoadJSON(ctx, e.store, store.KeyGlobalPreset, &cfg)
	if err != nil || !ok {
		return own, false
	}
	if !cfg.Enabled || cfg.Preset == nil {
		return own, false
	}
	return cfg.Preset, true
}

// resolveWorldbook merges the shared worldbook with the character's
// own when one is enabled. Name collisions resolve by the configured
// priority; neither source book is mutated.
func (e *Engine) resolveWorldbook(ctx context.Context, own *types.WorldBook) *types.WorldBook {
	var cfg types.GlobalWorldbookConfig
	ok, err := store.LoadJSON(ctx, e.store, store.KeyGlobalWorldbook, &cfg)
	if err != nil {
		slog.Warn("failed to load global worldbook config, continuing without", "error", err.Error())
		return own
	}
	if !ok || !cfg.Enabled || cfg.Worldbook == nil || len(cfg.Worldbook.Entries) == 0 {
		return own
	}

	base, overlay := own, cfg.Worldbook
	if cfg.Priority == types.WorldbookPriorityCharacter {
		base, overlay = cfg.Worldbook, own
	}

	merged := &types.WorldBook{Entries: make(map[string]types.WorldBookEntry)}
	if base != nil {
		for name, entry := range base.Entries {
			merged.Entries[name] = entry
		}
	}
	if overlay != nil {
		for name, entry := range overlay.Entries {
			merged.Entries[name] = entry
		}
	}
	return merged
}

func (e *Engine) loadSkeleton(ctx context.Context, conversationID string, preset *types.Preset, roleCard *types.RoleCard, worldBook *types.WorldBook, force bool) ([]types.ChatMessage, bool) {
	if !force {
		var skeleton []types.ChatMessage
		ok, err := store.LoadJSON(ctx, e.store, store.Key(conversationID, store.SuffixContents), &skeleton)
		if err == nil && ok && len(skeleton) > 0 {
			return skeleton, false
		}
	}
	skeleton, _ := charutil.BuildFramework(preset, roleCard, worldBook)
	return skeleton, true
}

func (e *Engine) loadGlobalRules(ctx context.Context) []BoundScript {
	var cfg types.GlobalRegexConfig
	ok, err := store.LoadJSON(ctx, e.store, store.KeyGlobalRegex, &cfg)
	if err != nil {
		slog.Warn("failed to load global regex config, continuing without", "error", err.Error())
		return nil
	}
	if !ok || !cfg.Enabled {
		return nil
	}
	return FlattenScriptGroups(cfg.Groups)
}

// customSettingEntries turns the global and per-character persona
// settings into constant in-history dynamic entries.
func (e *Engine) customSettingEntries(ctx context.Context, conversationID string) []types.ChatMessage {
	var entries []types.ChatMessage
	for _, key := range []string{store.KeyGlobalUserSetting, store.CharacterSettingKey(conversationID)} {
		var setting types.CustomUserSetting
		ok, err := store.LoadJSON(ctx, e.store, key, &setting)
		if err != nil {
			slog.Warn("failed to load custom user setting, continuing without", "error", err.Error(), "key", key)
			continue
		}
		if !ok || setting.Disable || strings.TrimSpace(setting.Content) == "" {
			continue
		}
		entries = append(entries, customSettingEntry(setting))
	}
	return entries
}

func customSettingEntry(setting types.CustomUserSetting) types.ChatMessage {
	constant := true
	position := types.PositionInHistory
	depth := setting.Depth
	if depth <= 0 {
		depth = 1
	}
	name := setting.Comment
	if name == "" {
		name = "Custom Setting"
	}
	text := fmt.Sprintf("<{{user}}'s_info>\n%s\n</{{user}}'s_info>", setting.Content)
	return types.ChatMessage{
		Name:           name,
		Role:           types.RoleUser,
		Parts:          []types.MessagePart{{Text: text}},
		Constant:       &constant,
		Position:       &position,
		InjectionDepth: &depth,
	}
}

func characterScripts(roleCard *types.RoleCard) []types.RegexScript {
	if roleCard == nil || roleCard.Data == nil || roleCard.Data.Extensions == nil {
		return nil
	}
	return roleCard.Data.Extensions.RegexScripts
}

// saveHistory persists the entity with dynamic entries stripped; they
// are recomputed on every send and never the durable source of truth.
func (e *Engine) saveHistory(ctx context.Context, conversationID string, history types.ChatHistoryEntity) error {
	history.Parts = stripDEntries(history.Parts)
	if err := e.store.Save(ctx, store.Key(conversationID, store.SuffixHistory), history); err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	return nil
}
