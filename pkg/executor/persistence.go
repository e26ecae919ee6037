package executor

import (
	"context"
	"time"
)

// ConversationRecorder captures prompt/response pairs for debugging/cost tracking.
// Reused by the Analyst Panel (pkg/panel) to persist each analyst's raw
// prompt/response pair alongside the FinalDecision it contributed to.
type ConversationRecorder interface {
	RecordConversation(ctx context.Context, rec ConversationRecord) error
}

// ConversationRecord describes a single analyst → LLM interaction.
type ConversationRecord struct {
	AnalystID        string
	Prompt           string
	PromptTokens     int
	Response         string
	CompletionTokens int
	TotalTokens      int
	ModelName        string
	Timestamp        time.Time
	Topic            string
}

type noopConversationRecorder struct{}

func (noopConversationRecorder) RecordConversation(ctx context.Context, rec ConversationRecord) error {
	return nil
}

// NewNoopConversationRecorder returns a recorder that discards every record,
// used when no persistence backend is wired (e.g. dry-run or unit tests).
func NewNoopConversationRecorder() ConversationRecorder {
	return noopConversationRecorder{}
}
