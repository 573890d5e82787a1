package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rzline/CradleAI/internal/types"
)

type mockSummarizer struct {
	result SummaryResult
	err    error
	calls  int
	inputs []string
}

func (m *mockSummarizer) Summarize(_ context.Context, transcript string) (SummaryResult, error) {
	m.calls++
	m.inputs = append(m.inputs, transcript)
	return m.result, m.err
}

type mockEmbedder struct {
	vec []float32
	err error
}

func (m *mockEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return m.vec, m.err
}

func (m *mockEmbedder) EmbedDocument(context.Context, string) ([]float32, error) {
	return m.vec, m.err
}

type mockRepo struct {
	added []Record
	hits  []Retrieved
	err   error
}

func (m *mockRepo) AddMemory(_ context.Context, rec Record) error {
	m.added = append(m.added, rec)
	return m.err
}

func (m *mockRepo) SearchSimilar(context.Context, string, []float32, int, float64) ([]Retrieved, error) {
	return m.hits, m.err
}

func turns(n int) types.ChatHistoryEntity {
	greeting := types.NewTurn(types.RoleModel, "hello")
	greeting.IsFirstMes = true
	history := types.ChatHistoryEntity{Name: "Test", Parts: []types.ChatMessage{greeting}}
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleModel
		}
		history.Parts = append(history.Parts, types.NewTurn(role, fmt.Sprintf("turn %d", i)))
	}
	return history
}

func TestCheckAndSummarizeBelowThresholdIsIdentity(t *testing.T) {
	summarizer := &mockSummarizer{}
	svc := NewService(summarizer, nil, nil, 10, 4, 5, 0.7)

	history := turns(10)
	got, changed, err := svc.CheckAndSummarize(context.Background(), "conv", "conv", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("history changed below threshold")
	}
	if len(got.Parts) != len(history.Parts) {
		t.Fatalf("parts count changed: %d -> %d", len(history.Parts), len(got.Parts))
	}
	if summarizer.calls != 0 {
		t.Fatalf("summarizer called below threshold")
	}
}

func TestCheckAndSummarizeCompressesOldestSpan(t *testing.T) {
	summarizer := &mockSummarizer{result: SummaryResult{
		Summary: "they discussed many things",
		Facts:   []string{"user likes tea"},
	}}
	embedder := &mockEmbedder{vec: []float32{0.1, 0.2}}
	repo := &mockRepo{}
	svc := NewService(summarizer, embedder, repo, 10, 4, 5, 0.7)

	history := turns(12)
	got, changed, err := svc.CheckAndSummarize(context.Background(), "conv", "conv", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("history not compressed above threshold")
	}

	// Greeting + one summary + the four newest turns.
	if len(got.Parts) != 6 {
		t.Fatalf("got %d parts, want 6", len(got.Parts))
	}
	if !got.Parts[0].IsFirstMes {
		t.Fatalf("greeting not preserved at front")
	}
	summary := got.Parts[1]
	if !summary.IsMemorySummary || summary.Role != types.RoleUser {
		t.Fatalf("summary message malformed: role=%q flag=%v", summary.Role, summary.IsMemorySummary)
	}
	if got.Parts[2].Text() != "turn 8" || got.Parts[5].Text() != "turn 11" {
		t.Fatalf("kept span wrong: %q .. %q", got.Parts[2].Text(), got.Parts[5].Text())
	}

	if summarizer.calls != 1 {
		t.Fatalf("summarizer called %d times", summarizer.calls)
	}
	if len(repo.added) != 1 || repo.added[0].Summary != "they discussed many things" {
		t.Fatalf("memory not persisted: %+v", repo.added)
	}
	if repo.added[0].Salience <= 0 {
		t.Fatalf("salience not computed")
	}
}

func TestCheckAndSummarizeKeepRecentCoversSpan(t *testing.T) {
	// keepRecent above the threshold leaves nothing to compress; the
	// history passes through untouched instead of slicing negatively.
	summarizer := &mockSummarizer{result: SummaryResult{Summary: "s"}}
	svc := NewService(summarizer, nil, nil, 10, 15, 5, 0.7)

	history := turns(12)
	got, changed, err := svc.CheckAndSummarize(context.Background(), "conv", "conv", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("history changed with nothing to compress")
	}
	if len(got.Parts) != len(history.Parts) {
		t.Fatalf("parts count changed: %d -> %d", len(history.Parts), len(got.Parts))
	}
	if summarizer.calls != 0 {
		t.Fatalf("summarizer called with nothing to compress")
	}
}

func TestCheckAndSummarizeSummarizerError(t *testing.T) {
	summarizer := &mockSummarizer{err: errors.New("model down")}
	svc := NewService(summarizer, nil, nil, 10, 4, 5, 0.7)

	history := turns(12)
	got, changed, err := svc.CheckAndSummarize(context.Background(), "conv", "conv", history)
	if err == nil {
		t.Fatalf("expected error")
	}
	if changed {
		t.Fatalf("history changed on error")
	}
	if len(got.Parts) != len(history.Parts) {
		t.Fatalf("history mutated on error")
	}
}

func TestSearchMemories(t *testing.T) {
	embedder := &mockEmbedder{vec: []float32{0.5}}
	repo := &mockRepo{hits: []Retrieved{{Summary: "A"}, {Summary: "B"}}}
	svc := NewService(&mockSummarizer{}, embedder, repo, 10, 4, 5, 0.7)

	got, err := svc.SearchMemories(context.Background(), "conv", "tea")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("got %v", got)
	}
}

func TestSearchMemoriesWithoutBackend(t *testing.T) {
	svc := NewService(&mockSummarizer{}, nil, nil, 10, 4, 5, 0.7)
	got, err := svc.SearchMemories(context.Background(), "conv", "tea")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestParseSummaryJSONSurroundingText(t *testing.T) {
	raw := "Sure, here it is:\n{\"summary\": \"short\", \"facts\": [\"f\"]}\nDone."
	got, err := parseSummaryJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Summary != "short" || len(got.Facts) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestComputeSalienceBounds(t *testing.T) {
	empty := ComputeSalience(SummaryResult{})
	if empty != 0 {
		t.Fatalf("empty salience = %v", empty)
	}
	full := ComputeSalience(SummaryResult{
		Summary:     "a long summary that goes on and on and keeps going until it finally crosses the first length bonus threshold for scoring purposes, which needs quite a few more words to reach",
		Facts:       []string{"a", "b", "c", "d"},
		Commitments: []string{"x", "y", "z"},
	})
	if full <= 0 || full > 1 {
		t.Fatalf("salience out of bounds: %v", full)
	}
}
