package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rzline/CradleAI/internal/types"
)

// Service compresses long chat histories and retrieves stored
// summaries by similarity. Embedder and Repo are optional; without
// them summaries still land in the history but are not persisted or
// searchable.
type Service struct {
	summarizer          Summarizer
	embedder            Embedder
	repo                Repo
	threshold           int
	keepRecent          int
	topK                int
	similarityThreshold float64
}

func NewService(summarizer Summarizer, embedder Embedder, repo Repo, threshold, keepRecent, topK int, similarityThreshold float64) *Service {
	if threshold < 1 {
		threshold = 40
	}
	if keepRecent < 1 {
		keepRecent = 10
	}
	if topK < 1 {
		topK = 5
	}
	return &Service{
		summarizer:          summarizer,
		embedder:            embedder,
		repo:                repo,
		threshold:           threshold,
		keepRecent:          keepRecent,
		topK:                topK,
		similarityThreshold: similarityThreshold,
	}
}

// CheckAndSummarize compresses the oldest exchanges into a single
// summary message once the history crosses the configured threshold.
// Below the threshold the history is returned unchanged.
func (s *Service) CheckAndSummarize(ctx context.Context, conversationID, characterID string, history types.ChatHistoryEntity) (types.ChatHistoryEntity, bool, error) {
	if s.summarizer == nil {
		return history, false, nil
	}

	span := summarizableSpan(history.Parts)
	if len(span) <= s.threshold {
		return history, false, nil
	}

	cut := len(span) - s.keepRecent
	if cut < 1 {
		return history, false, nil
	}
	oldest := span[:cut]

	transcript := buildTranscript(history.Parts, oldest)
	result, err := s.summarizer.Summarize(ctx, transcript)
	if err != nil {
		return history, false, fmt.Errorf("failed to summarize history window: %w", err)
	}
	if result.Summary == "" {
		return history, false, fmt.Errorf("summarizer returned empty summary")
	}

	summaryMsg := types.NewTurn(types.RoleUser, summaryMessageText(result))
	summaryMsg.IsMemorySummary = true

	history.Parts = spliceSummary(history.Parts, oldest, summaryMsg)

	s.persist(ctx, conversationID, characterID, result)
	return history, true, nil
}

// SearchMemories embeds the query and returns matching stored
// summaries, best first.
func (s *Service) SearchMemories(ctx context.Context, conversationID, query string) ([]string, error) {
	if s.embedder == nil || s.repo == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	hits, err := s.repo.SearchSimilar(ctx, conversationID, vec, s.topK, s.similarityThreshold)
	if err != nil {
		return nil, err
	}
	memories := make([]string, 0, len(hits))
	for _, h := range hits {
		memories = append(memories, h.Summary)
	}
	return memories, nil
}

func (s *Service) persist(ctx context.Context, conversationID, characterID string, result SummaryResult) {
	if s.embedder == nil || s.repo == nil {
		return
	}
	embedding, err := s.embedder.EmbedDocument(ctx, embeddingText(result))
	if err != nil {
		slog.Warn("failed to embed memory summary", "error", err.Error(), "conversation_id", conversationID)
		return
	}
	if err := s.repo.AddMemory(ctx, Record{
		ConversationID: conversationID,
		CharacterID:    characterID,
		Summary:        result.Summary,
		Facts:          result.Facts,
		Commitments:    result.Commitments,
		Salience:       ComputeSalience(result),
		Embedding:      embedding,
	}); err != nil {
		slog.Warn("failed to persist memory summary", "error", err.Error(), "conversation_id", conversationID)
	}
}

// summarizableSpan lists the positions of plain exchanges: not dynamic
// entries, not the greeting, not earlier summaries.
func summarizableSpan(parts []types.ChatMessage) []int {
	var span []int
	for i, msg := range parts {
		if msg.IsDEntry || msg.IsFirstMes || msg.IsMemorySummary {
			continue
		}
		span = append(span, i)
	}
	return span
}

func buildTranscript(parts []types.ChatMessage, positions []int) string {
	var sb strings.Builder
	for _, pos := range positions {
		msg := parts[pos]
		speaker := msg.Name
		if speaker == "" {
			speaker = msg.Role
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(msg.Text())
		sb.WriteString("\n")
	}
	return sb.String()
}

func summaryMessageText(result SummaryResult) string {
	var sb strings.Builder
	sb.WriteString("[Earlier conversation summary] ")
	sb.WriteString(result.Summary)
	if len(result.Facts) > 0 {
		sb.WriteString("\nKnown facts: ")
		sb.WriteString(strings.Join(result.Facts, "; "))
	}
	if len(result.Commitments) > 0 {
		sb.WriteString("\nCommitments: ")
		sb.WriteString(strings.Join(result.Commitments, "; "))
	}
	return sb.String()
}

func embeddingText(result SummaryResult) string {
	var sb strings.Builder
	sb.WriteString(result.Summary)
	appendList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		sb.WriteString("\n")
		sb.WriteString(title)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(items, " ; "))
	}
	appendList("facts", result.Facts)
	appendList("commitments", result.Commitments)
	return sb.String()
}

// spliceSummary drops the summarized messages and puts the summary at
// the position of the first one.
func spliceSummary(parts []types.ChatMessage, positions []int, summary types.ChatMessage) []types.ChatMessage {
	drop := make(map[int]bool, len(positions))
	for _, p := range positions {
		drop[p] = true
	}
	first := positions[0]

	out := make([]types.ChatMessage, 0, len(parts)-len(positions)+1)
	for i, msg := range parts {
		if i == first {
			out = append(out, summary)
		}
		if drop[i] {
			continue
		}
		out = append(out, msg)
	}
	return out
}
