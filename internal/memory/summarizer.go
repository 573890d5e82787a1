package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

const (
	summarizerAppName = "cradleai_memory"
	summarizerUserID  = "memory_summarizer"
)

// summaryInstruction asks the model for schema-conforming JSON only.
const summaryInstruction = `You are a professional dialogue memory summarizer.
Your task is to compress the conversation history into a concise summary while preserving the most important information.

Extract and retain:
1. Key events and important decisions
2. Emotional shifts and significant character moments
3. User-revealed personal info (preferences, habits, important dates, etc.)
4. Promises or agreements made by either party

Output requirements:
- Use third-person narration
- Organize chronologically
- Keep the summary concise, a few sentences at most
- Return a valid JSON object that matches the output schema
- Do not include any extra keys or text outside the JSON object`

// SummaryResult is the structured output of one summarization pass.
type SummaryResult struct {
	Summary     string   `json:"summary"`
	Facts       []string `json:"facts,omitempty"`
	Commitments []string `json:"commitments,omitempty"`
}

// Summarizer compresses a chat transcript into a SummaryResult.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (SummaryResult, error)
}

type summarizerRunner interface {
	Run(ctx context.Context, userID, sessionID string, msg *genai.Content, cfg agent.RunConfig) iter.Seq2[*session.Event, error]
}

// adkSummarizer runs an ADK llmagent with a fixed output schema.
type adkSummarizer struct {
	agent          agent.Agent
	runner         summarizerRunner
	sessionService session.Service
	counter        uint64
}

func NewADKSummarizer(ctx context.Context, apiKey, modelName string) (Summarizer, error) {
	summarizerModel, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create summarizer model: %w", err)
	}

	llmAgent, err := llmagent.New(llmagent.Config{
		Name:            "memory_summarizer",
		Description:     "Chat history summarization agent",
		Model:           summarizerModel,
		Instruction:     summaryInstruction,
		OutputSchema:    summaryOutputSchema(),
		IncludeContents: llmagent.IncludeContentsNone,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create summarizer agent: %w", err)
	}

	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        summarizerAppName,
		Agent:          llmAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create summarizer runner: %w", err)
	}

	return &adkSummarizer{
		agent:          llmAgent,
		runner:         r,
		sessionService: sessionService,
	}, nil
}

func (s *adkSummarizer) Summarize(ctx context.Context, transcript string) (SummaryResult, error) {
	sessID := fmt.Sprintf("summary-%d", atomic.AddUint64(&s.counter, 1))
	if _, err := s.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   summarizerAppName,
		UserID:    summarizerUserID,
		SessionID: sessID,
	}); err != nil {
		if _, getErr := s.sessionService.Get(ctx, &session.GetRequest{
			AppName:   summarizerAppName,
			UserID:    summarizerUserID,
			SessionID: sessID,
		}); getErr != nil {
			return SummaryResult{}, fmt.Errorf("failed to create summarizer session: %w", err)
		}
	}

	msg := genai.NewContentFromText(transcript, "user")
	events := s.runner.Run(ctx, summarizerUserID, sessID, msg, agent.RunConfig{
		StreamingMode: agent.StreamingModeNone,
	})

	var last string
	for event, err := range events {
		if err != nil {
			return SummaryResult{}, err
		}
		if event == nil || event.Content == nil {
			continue
		}
		if event.Author == "user" {
			continue
		}
		text := strings.TrimSpace(contentText(event.Content))
		if text == "" {
			continue
		}
		last = text
		if event.IsFinalResponse() {
			break
		}
	}
	if last == "" {
		return SummaryResult{}, fmt.Errorf("empty summary response")
	}

	return parseSummaryJSON(last)
}

func summaryOutputSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type: genai.TypeString,
			},
			"facts": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"commitments": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"summary"},
	}
}

func contentText(content *genai.Content) string {
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// parseSummaryJSON tolerates stray text around the JSON object.
func parseSummaryJSON(raw string) (SummaryResult, error) {
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	var result SummaryResult
	if err := json.Unmarshal([]byte(clean), &result); err != nil {
		return SummaryResult{}, fmt.Errorf("failed to parse summary json: %w", err)
	}
	return result, nil
}
