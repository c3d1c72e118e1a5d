package providers

import "context"

// Provider is the interface every completion backend must implement.
//
// Chat performs exactly one backend call. Retries and per-attempt timeouts
// are applied by the caller (see completion.Gateway), so implementations
// must honour ctx cancellation and must not retry on their own.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	// Instructions is the system text (persona, user insight).
	Instructions string    `json:"instructions,omitempty"`
	Messages     []Message `json:"messages"`
	Model        string    `json:"model,omitempty"`

	// ConversationID continues a server-side conversation when set. The
	// backend already holds the earlier turns, so Messages only needs the
	// new input.
	ConversationID string                 `json:"conversation_id,omitempty"`
	Options        map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from a backend call.
type ChatResponse struct {
	Content string `json:"content"`
	// ConversationID is the handle to pass back on the next turn.
	ConversationID string `json:"conversation_id,omitempty"`
	FinishReason   string `json:"finish_reason"` // "stop", "length"
	Usage          *Usage `json:"usage,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Option keys understood by providers.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"
)
