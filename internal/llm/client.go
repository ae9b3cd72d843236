package llm

import (
	"context"

	"github.com/sodown4thecause/CRM/internal/tools"
)

// Client is the interface every provider implements. The tool
// definitions use the OpenAI function-calling shape; providers with a
// different wire format convert at their boundary.
type Client interface {
	// Chat sends a chat completion request and returns the full response.
	Chat(ctx context.Context, model string, messages []Message, defs []tools.Definition) (*ChatResponse, error)

	// ChatStream sends a chat request, streaming text fragments to the
	// callback when it is non-nil. The returned response carries the
	// accumulated content and any tool calls the model requested.
	ChatStream(ctx context.Context, model string, messages []Message, defs []tools.Definition, callback StreamCallback) (*ChatResponse, error)

	// Ping checks whether the provider is reachable with valid credentials.
	Ping(ctx context.Context) error
}
