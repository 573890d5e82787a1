package engine

import (
	"log/slog"

	"github.com/rzline/CradleAI/internal/types"
)

// Diagnostics receives the fully assembled request before dispatch.
// Implementations must not mutate the messages.
type Diagnostics interface {
	RequestAssembled(conversationID string, messages []types.ChatMessage)
	ResponseReceived(conversationID, adapterName, response string)
}

// NopDiagnostics discards everything.
type NopDiagnostics struct{}

func (NopDiagnostics) RequestAssembled(string, []types.ChatMessage) {}

func (NopDiagnostics) ResponseReceived(string, string, string) {}

// LogDiagnostics summarizes assembled requests through slog.
type LogDiagnostics struct {
	Logger *slog.Logger
}

func (d LogDiagnostics) RequestAssembled(conversationID string, messages []types.ChatMessage) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Text())
	}
	logger.Debug("assembled model request",
		"conversation_id", conversationID,
		"messages", len(messages),
		"chars", chars)
}

func (d LogDiagnostics) ResponseReceived(conversationID, adapterName, response string) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("received model response",
		"conversation_id", conversationID,
		"adapter", adapterName,
		"chars", len(response))
}
