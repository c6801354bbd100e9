package conversation

import (
	"context"
	"errors"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a provider-neutral chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest carries generation settings. Each client owns its model id.
type LLMRequest struct {
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMResponse is a completed generation. Model names the model that answered,
// which differs from the primary when a fallback served the request.
type LLMResponse struct {
	Text       string
	Model      string
	Usage      TokenUsage
	StopReason string
}

// errEmptyCompletion is returned when a provider answers with no text.
var errEmptyCompletion = errors.New("conversation: empty completion")

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
