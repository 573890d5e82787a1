package engine

import (
	"testing"

	"github.com/rzline/CradleAI/internal/types"
)

func testSkeleton() []types.ChatMessage {
	return []types.ChatMessage{
		{Name: "Main", Role: types.RoleSystem, Identifier: "main", Parts: []types.MessagePart{{Text: "You are {{char}}."}}},
		{Name: "Chat History", Role: types.RoleSystem, Identifier: "chatHistory", IsChatHistoryPlaceholder: true},
		{Name: "Jailbreak", Role: types.RoleUser, Identifier: "jailbreak", Parts: []types.MessagePart{{Text: ""}}},
	}
}

func TestBuildRequestMessagesSplicesHistory(t *testing.T) {
	history := historyOf(
		types.NewTurn(types.RoleModel, "hello"),
		types.NewTurn(types.RoleUser, "hi"),
	)
	mc := MacroContext{CharName: "Aria", UserName: "Sam", History: history.Parts}

	got := BuildRequestMessages(testSkeleton(), history, nil, mc)
	sameTexts(t, got, []string{"You are Aria.", "hello", "hi"})
	if got[0].Role != types.RoleUser {
		t.Fatalf("system segment role = %q, want user", got[0].Role)
	}
	if got[1].Role != types.RoleModel {
		t.Fatalf("model turn role = %q, want model", got[1].Role)
	}
}

func TestBuildRequestMessagesDropsEmpties(t *testing.T) {
	history := historyOf(types.NewTurn(types.RoleUser, "hi"))
	got := BuildRequestMessages(testSkeleton(), history, nil, MacroContext{CharName: "Aria"})
	for _, msg := range got {
		if msg.Text() == "" {
			t.Fatalf("empty message survived assembly: %v", texts(got))
		}
	}
}

func TestBuildRequestMessagesCharacterRegexOnSkeletonOnly(t *testing.T) {
	history := historyOf(types.NewTurn(types.RoleUser, "Aria is here"))
	scripts := []types.RegexScript{{ScriptName: "s", FindRegex: "/Aria/g", ReplaceString: "A***"}}
	mc := MacroContext{CharName: "Aria"}

	got := BuildRequestMessages(testSkeleton(), history, scripts, mc)
	// The skeleton text is rewritten before macro substitution fills in
	// the name, so the history line keeps the raw name.
	if got[0].Text() != "You are Aria." {
		t.Fatalf("skeleton text = %q", got[0].Text())
	}
	if got[1].Text() != "Aria is here" {
		t.Fatalf("history text rewritten: %q", got[1].Text())
	}
}

func TestBuildRequestMessagesMemorySummaryRole(t *testing.T) {
	summary := types.NewTurn(types.RoleModel, "[Earlier conversation summary] things happened")
	summary.IsMemorySummary = true
	history := historyOf(summary, types.NewTurn(types.RoleUser, "hi"))

	got := BuildRequestMessages(testSkeleton(), history, nil, MacroContext{CharName: "Aria"})
	if got[1].Role != types.RoleUser {
		t.Fatalf("memory summary role = %q, want user", got[1].Role)
	}
}
