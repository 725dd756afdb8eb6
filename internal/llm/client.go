package llm

import "context"

// Client is the interface chat completion providers implement.
//
// The API key is an argument rather than client state: every platform
// request carries its own OPENAI_API_KEY variable, so one client serves
// turns credentialed by different keys.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, apiKey string, req Request) (*Response, error)
}
