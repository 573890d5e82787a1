package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rzline/CradleAI/internal/models"
	"github.com/rzline/CradleAI/internal/store"
	"github.com/rzline/CradleAI/internal/types"
)

type fakeAdapter struct {
	response string
	err      error
	requests [][]types.ChatMessage
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Generate(_ context.Context, messages []types.ChatMessage) (string, error) {
	f.requests = append(f.requests, messages)
	return f.response, f.err
}

func (f *fakeAdapter) GenerateWithTools(ctx context.Context, messages []types.ChatMessage, _ models.ToolEnv) (string, error) {
	return f.Generate(ctx, messages)
}

func testCharacter() CharacterData {
	constantTrue := true
	return CharacterData{
		RoleCard: &types.RoleCard{
			Name:        "Aria",
			FirstMes:    "Well met.",
			Description: "A wandering bard.",
			Personality: "curious",
		},
		WorldBook: &types.WorldBook{Entries: map[string]types.WorldBookEntry{
			"lore": {Content: "Aria fears storms.", Position: types.PositionInHistory, Constant: constantTrue, Depth: 1},
		}},
		Preset: &types.Preset{
			Prompts: []types.PresetPrompt{
				{Name: "Main", Identifier: "main", Content: "You are {{char}} talking to {{user}}."},
				{Name: "Chat History", Identifier: "chatHistory"},
			},
			PromptOrder: []types.PresetOrder{{Order: []types.PresetOrderEntry{
				{Identifier: "main", Enabled: true},
				{Identifier: "chatHistory", Enabled: true},
			}}},
		},
	}
}

func newTestEngine(t *testing.T, adapter models.Adapter) (*Engine, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	eng, err := New(st, types.ProviderSettings{}, WithAdapter(adapter), WithUserName("Sam"))
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return eng, st
}

func loadTestHistory(t *testing.T, st *store.MemStore, conversationID string) types.ChatHistoryEntity {
	t.Helper()
	var history types.ChatHistoryEntity
	ok, err := store.LoadJSON(context.Background(), st, store.Key(conversationID, store.SuffixHistory), &history)
	if err != nil || !ok {
		t.Fatalf("failed to load history: ok=%v err=%v", ok, err)
	}
	return history
}

func TestCreateCharacterSeedsDocuments(t *testing.T) {
	eng, st := newTestEngine(t, &fakeAdapter{})
	ctx := context.Background()

	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	history := loadTestHistory(t, st, "conv")
	if len(history.Parts) != 1 || !history.Parts[0].IsFirstMes || history.Parts[0].Text() != "Well met." {
		t.Fatalf("seed history wrong: %v", texts(history.Parts))
	}

	var skeleton []types.ChatMessage
	ok, err := store.LoadJSON(ctx, st, store.Key("conv", store.SuffixContents), &skeleton)
	if err != nil || !ok {
		t.Fatalf("skeleton missing: ok=%v err=%v", ok, err)
	}
	if !skeleton[len(skeleton)-1].IsChatHistoryPlaceholder {
		t.Fatalf("no history placeholder in skeleton")
	}
}

func TestContinueChatFullTurn(t *testing.T) {
	adapter := &fakeAdapter{response: "The rain sings tonight."}
	eng, st := newTestEngine(t, adapter)
	ctx := context.Background()

	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	response, err := eng.ContinueChat(ctx, "conv", "Tell me about storms")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if response != "The rain sings tonight." {
		t.Fatalf("got response %q", response)
	}

	if len(adapter.requests) != 1 {
		t.Fatalf("adapter called %d times", len(adapter.requests))
	}
	req := adapter.requests[0]
	if req[0].Text() != "You are Aria talking to Sam." {
		t.Fatalf("first request message = %q", req[0].Text())
	}
	found := false
	for _, msg := range req {
		if msg.Text() == "Aria fears storms." {
			found = true
		}
	}
	if !found {
		t.Fatalf("constant world entry missing from request: %v", texts(req))
	}

	history := loadTestHistory(t, st, "conv")
	for _, msg := range history.Parts {
		if msg.IsDEntry {
			t.Fatalf("dynamic entry persisted: %v", texts(history.Parts))
		}
	}
	sameTexts(t, history.Parts, []string{"Well met.", "Tell me about storms", "The rain sings tonight."})
}

func TestContinueChatMissingCharacter(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeAdapter{response: "x"})
	_, err := eng.ContinueChat(context.Background(), "ghost", "hi")
	if !errors.Is(err, ErrMissingData) {
		t.Fatalf("got err %v, want ErrMissingData", err)
	}
}

func TestContinueChatProviderFault(t *testing.T) {
	eng, st := newTestEngine(t, &fakeAdapter{err: errors.New("boom")})
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := eng.ContinueChat(ctx, "conv", "hi"); err == nil {
		t.Fatalf("expected provider error")
	}
	// A failed turn must not persist the user message.
	history := loadTestHistory(t, st, "conv")
	sameTexts(t, history.Parts, []string{"Well met."})
}

func TestContinueChatGlobalRegexBothPlacements(t *testing.T) {
	adapter := &fakeAdapter{response: "gold everywhere"}
	eng, _ := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := eng.SetGlobalRegex(ctx, types.GlobalRegexConfig{
		Enabled: true,
		Groups: []types.RegexScriptGroup{{
			BindType: types.BindAll,
			Scripts: []types.RegexScript{
				{ScriptName: "in", FindRegex: "/silver/g", ReplaceString: "iron", Placement: []int{PlacementUserInput}},
				{ScriptName: "out", FindRegex: "/gold/g", ReplaceString: "brass", Placement: []int{PlacementAIOutput}},
			},
		}},
	})
	if err != nil {
		t.Fatalf("set regex failed: %v", err)
	}

	response, err := eng.ContinueChat(ctx, "conv", "any silver here")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if response != "brass everywhere" {
		t.Fatalf("placement-2 rewrite missing: %q", response)
	}
	req := adapter.requests[0]
	if req[len(req)-1].Text() != "any iron here" {
		t.Fatalf("placement-1 rewrite missing: %q", req[len(req)-1].Text())
	}
}

func TestContinueChatGlobalPresetOverride(t *testing.T) {
	adapter := &fakeAdapter{response: "ok"}
	eng, _ := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	override := &types.Preset{
		Prompts: []types.PresetPrompt{
			{Name: "Override", Identifier: "override", Content: "OVERRIDDEN"},
			{Name: "Chat History", Identifier: "chatHistory"},
		},
		PromptOrder: []types.PresetOrder{{Order: []types.PresetOrderEntry{
			{Identifier: "override", Enabled: true},
			{Identifier: "chatHistory", Enabled: true},
		}}},
	}
	if err := eng.SetGlobalPreset(ctx, types.GlobalPresetConfig{Enabled: true, Preset: override}); err != nil {
		t.Fatalf("set preset failed: %v", err)
	}

	if _, err := eng.ContinueChat(ctx, "conv", "hi"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if adapter.requests[0][0].Text() != "OVERRIDDEN" {
		t.Fatalf("global preset not applied: %v", texts(adapter.requests[0]))
	}
}

func TestContinueChatGlobalWorldbookMerge(t *testing.T) {
	adapter := &fakeAdapter{response: "ok"}
	eng, _ := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	shared := &types.WorldBook{Entries: map[string]types.WorldBookEntry{
		"lore":   {Content: "SHARED LORE", Position: types.PositionInHistory, Constant: true, Depth: 1},
		"shared": {Content: "SHARED EXTRA", Position: types.PositionInHistory, Constant: true, Depth: 1},
	}}
	if err := eng.SetGlobalWorldbook(ctx, types.GlobalWorldbookConfig{
		Enabled:   true,
		Priority:  types.WorldbookPriorityGlobal,
		Worldbook: shared,
	}); err != nil {
		t.Fatalf("set worldbook failed: %v", err)
	}

	if _, err := eng.ContinueChat(ctx, "conv", "hi"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	got := texts(adapter.requests[0])
	if !containsText(got, "SHARED LORE") || !containsText(got, "SHARED EXTRA") {
		t.Fatalf("global worldbook entries missing: %v", got)
	}
	if containsText(got, "Aria fears storms.") {
		t.Fatalf("character entry survived global-priority collision: %v", got)
	}

	// Character priority keeps the character's entry on collision.
	if err := eng.SetGlobalWorldbook(ctx, types.GlobalWorldbookConfig{
		Enabled:   true,
		Priority:  types.WorldbookPriorityCharacter,
		Worldbook: shared,
	}); err != nil {
		t.Fatalf("set worldbook failed: %v", err)
	}
	if _, err := eng.ContinueChat(ctx, "conv", "again"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	got = texts(adapter.requests[1])
	if !containsText(got, "Aria fears storms.") || containsText(got, "SHARED LORE") {
		t.Fatalf("character-priority merge wrong: %v", got)
	}
	if !containsText(got, "SHARED EXTRA") {
		t.Fatalf("non-colliding shared entry missing: %v", got)
	}
}

func containsText(texts []string, want string) bool {
	for _, text := range texts {
		if text == want {
			return true
		}
	}
	return false
}

func TestRegenerateGreetingWithoutProviderCall(t *testing.T) {
	adapter := &fakeAdapter{response: "new answer"}
	eng, _ := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := eng.RegenerateFromMessage(ctx, "conv", 0)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if got != "Well met." {
		t.Fatalf("got %q", got)
	}
	if len(adapter.requests) != 0 {
		t.Fatalf("provider called for greeting restore")
	}
}

func TestRegenerateFromIndexRerunsTurn(t *testing.T) {
	adapter := &fakeAdapter{response: "first answer"}
	eng, st := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := eng.ContinueChat(ctx, "conv", "the question"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	adapter.response = "second answer"
	got, err := eng.RegenerateFromMessage(ctx, "conv", 1)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if got != "second answer" {
		t.Fatalf("got %q", got)
	}
	history := loadTestHistory(t, st, "conv")
	sameTexts(t, history.Parts, []string{"Well met.", "the question", "second answer"})
}

func TestEngineHistoryMutations(t *testing.T) {
	adapter := &fakeAdapter{response: "answer"}
	eng, st := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := eng.ContinueChat(ctx, "conv", "question"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if err := eng.EditAIMessage(ctx, "conv", 1, "edited answer"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	history := loadTestHistory(t, st, "conv")
	sameTexts(t, history.Parts, []string{"Well met.", "question", "edited answer"})

	if err := eng.DeleteAIMessage(ctx, "conv", 1); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	history = loadTestHistory(t, st, "conv")
	sameTexts(t, history.Parts, []string{"Well met."})
}

func TestBackupAndRestore(t *testing.T) {
	adapter := &fakeAdapter{response: "answer"}
	eng, st := newTestEngine(t, adapter)
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := eng.ContinueChat(ctx, "conv", "question"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if err := eng.BackupChatHistory(ctx, "conv", 1700000000); err != nil {
		t.Fatalf("backup failed: %v", err)
	}
	if err := eng.ResetChatHistory(ctx, "conv"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	history := loadTestHistory(t, st, "conv")
	sameTexts(t, history.Parts, []string{"Well met."})

	if err := eng.RestoreChatHistoryFromBackup(ctx, "conv", 1700000000); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	history = loadTestHistory(t, st, "conv")
	sameTexts(t, history.Parts, []string{"Well met.", "question", "answer"})
}

func TestDeleteCharacterData(t *testing.T) {
	eng, st := newTestEngine(t, &fakeAdapter{})
	ctx := context.Background()
	if err := eng.CreateCharacter(ctx, "conv", testCharacter()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := eng.DeleteCharacterData(ctx, "conv"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	var history types.ChatHistoryEntity
	ok, err := store.LoadJSON(ctx, st, store.Key("conv", store.SuffixHistory), &history)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if ok {
		t.Fatalf("history survived character deletion")
	}
}
