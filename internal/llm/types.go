// Package llm talks to the conversational model that answers questions over
// retrieved context. The only backend is Ollama's /api/chat and /api/generate.
package llm

import (
	"context"
	"time"
)

// Defaults for the Ollama chat backend.
const (
	DefaultHost    = "http://localhost:11434"
	DefaultModel   = "mistral"
	DefaultTimeout = 10 * time.Second
)

// Role identifies the author of a chat message.
type Role string

// Message roles understood by /api/chat.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Fragment is one piece of a streamed reply. The final fragment has Done set;
// a fragment carrying Err is always the last one sent.
type Fragment struct {
	Text string
	Done bool
	Err  error
}

// Backend answers chat requests.
type Backend interface {
	// Chat returns the complete reply to messages.
	Chat(ctx context.Context, messages []Message) (string, error)

	// ChatStream returns reply fragments in order. The channel is closed when
	// the reply ends, when ctx is cancelled, or after an error fragment.
	ChatStream(ctx context.Context, messages []Message) (<-chan Fragment, error)

	// Available reports whether the backend answers at all.
	Available(ctx context.Context) bool

	// ModelName returns the configured model.
	ModelName() string
}

// Config configures the Ollama client.
type Config struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434)
	Host string

	// Model is the chat model (default: mistral)
	Model string

	// Timeout bounds a non-streaming request and the wait for the first byte
	// of a streamed one (default: 10s)
	Timeout time.Duration

	// Temperature is passed through as a model option when non-zero.
	Temperature float64
}

// Wire types for the Ollama API.

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}
