// Package llm defines the Provider interface for the text model backends
// used after and alongside a live session: report generation, profile
// updates and tone classification.
//
// A Provider wraps a remote or local model API (Gemini, OpenAI, Anthropic,
// a local Ollama instance, ...) behind a single request/response call so
// that the analysis code never couples to a specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion request.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend. Counts
// are in the model's native token unit and may be zero when the backend does
// not report them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically
	// from the user role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction placed before the
	// conversation. Backends without a dedicated system field prepend it as a
	// system-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero requests the backend
	// default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means the backend
	// default.
	MaxTokens int

	// JSON asks the model to answer with a single JSON object. Backends with a
	// native JSON mode enable it; the others append an instruction to the
	// system prompt.
	JSON bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any text model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend in logs and metrics, e.g. "gemini".
	Name() string
}

// JSONInstruction is appended to the system prompt by backends that lack a
// native JSON response mode.
const JSONInstruction = "Respond with a single valid JSON object and nothing else."

// SystemPrompt returns req.SystemPrompt with [JSONInstruction] appended when
// req.JSON is set.
func SystemPrompt(req CompletionRequest) string {
	if !req.JSON {
		return req.SystemPrompt
	}
	if req.SystemPrompt == "" {
		return JSONInstruction
	}
	return req.SystemPrompt + "\n\n" + JSONInstruction
}
