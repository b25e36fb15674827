package llm

import (
	"context"
	"time"
)

// Provider names an LLM vendor
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Client is a chat completion backend. Implementations return *Error for
// provider failures so callers can decide whether to retry.
type Client interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	GetProvider() Provider
}

// ChatRequest is a single-turn or multi-turn completion request
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64

	// JSONResponse asks providers that support it to constrain output to a JSON object
	JSONResponse bool

	// User attributes the request for provider-side abuse monitoring; the tenant id
	User string
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatResponse struct {
	ID           string      `json:"id"`
	Content      string      `json:"content"`
	Model        string      `json:"model"`
	Provider     Provider    `json:"provider"`
	Usage        *TokenUsage `json:"usage"`
	FinishReason string      `json:"finish_reason"`
	CreatedAt    time.Time   `json:"created_at"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config configures a provider client. DefaultModel applies when a request names none.
type Config struct {
	Provider     Provider
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}
