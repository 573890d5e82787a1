package engine

import (
	"errors"
	"testing"

	"github.com/rzline/CradleAI/internal/types"
)

func seededHistory() types.ChatHistoryEntity {
	greeting := types.NewTurn(types.RoleModel, "greetings")
	greeting.IsFirstMes = true
	return historyOf(
		greeting,
		types.NewTurn(types.RoleUser, "first question"),
		types.NewTurn(types.RoleModel, "first answer"),
		types.NewTurn(types.RoleUser, "second question"),
		types.NewTurn(types.RoleModel, "second answer"),
	)
}

func TestUpdateChatHistoryAppendsAndInjects(t *testing.T) {
	history := seededHistory()
	entries := []types.ChatMessage{dEntry("bio", "BIO", types.PositionInHistory, 0, true)}

	got := UpdateChatHistory(history, "third question", "third answer", entries)
	sameTexts(t, got.Parts, []string{
		"greetings",
		"first question", "first answer",
		"second question", "second answer",
		"third question", "BIO", "third answer",
	})
}

func TestUpdateChatHistoryDedupByRoleAndText(t *testing.T) {
	history := seededHistory()
	got := UpdateChatHistory(history, "second question", "second answer", nil)
	if len(got.Parts) != len(history.Parts) {
		t.Fatalf("duplicate turn appended: %v", texts(got.Parts))
	}
}

func TestDeleteAIMessageRemovesPair(t *testing.T) {
	got, err := DeleteAIMessage(seededHistory(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sameTexts(t, got.Parts, []string{"greetings", "second question", "second answer"})
}

func TestDeleteAIMessageOutOfRange(t *testing.T) {
	history := seededHistory()
	for _, index := range []int{0, 3, -1} {
		got, err := DeleteAIMessage(history, index)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("index %d: got err %v, want ErrIndexOutOfRange", index, err)
		}
		sameTexts(t, got.Parts, texts(history.Parts))
	}
}

func TestDeleteUserMessageRemovesFollowingAnswer(t *testing.T) {
	got, err := DeleteUserMessage(seededHistory(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sameTexts(t, got.Parts, []string{"greetings", "first question", "first answer"})
}

func TestDeleteSkipsDynamicEntries(t *testing.T) {
	history := seededHistory()
	stale := types.NewTurn(types.RoleUser, "STALE")
	stale.IsDEntry = true
	history.Parts = append(history.Parts[:3:3], append([]types.ChatMessage{stale}, history.Parts[3:]...)...)

	got, err := DeleteAIMessage(history, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The dynamic entry survives; only the real pair is removed.
	sameTexts(t, got.Parts, []string{"greetings", "first question", "first answer", "STALE"})
}

func TestEditAIMessageKeepsFlags(t *testing.T) {
	history := seededHistory()
	got, err := EditAIMessage(history, 2, "rewritten")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sameTexts(t, got.Parts, []string{"greetings", "first question", "first answer", "second question", "rewritten"})
	if got.Parts[4].ID != history.Parts[4].ID {
		t.Fatalf("edit replaced the message identity")
	}
	if got.Parts[4].Role != types.RoleModel {
		t.Fatalf("edit changed role to %q", got.Parts[4].Role)
	}
}

func TestEditUserMessageOutOfRange(t *testing.T) {
	if _, err := EditUserMessage(seededHistory(), 5, "x"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("got err %v, want ErrIndexOutOfRange", err)
	}
}

func TestGreetingExcludedFromIndexSpaces(t *testing.T) {
	history := seededHistory()
	// Two AI messages and two user messages despite the seed greeting.
	if got := len(aiMessagePositions(history.Parts)); got != 2 {
		t.Fatalf("ai index space = %d, want 2", got)
	}
	if got := len(userMessagePositions(history.Parts)); got != 2 {
		t.Fatalf("user index space = %d, want 2", got)
	}
}

func TestTruncateToUserMessage(t *testing.T) {
	got := TruncateToUserMessage(seededHistory(), 3)
	sameTexts(t, got.Parts, []string{"greetings", "first question", "first answer", "second question"})
}
