// Package llm defines the contract the orchestration engine imposes on the
// generation service, and the OpenAI implementation of it. The engine never
// trusts provider output: tool calls are advisory and re-validated by the
// session executor every turn.
package llm

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Timeouts for generation calls.
const (
	TimeoutGenerate = 60 * time.Second
	TimeoutClassify = 15 * time.Second
)

// Domain errors for the llm package.
var (
	ErrNoChoices    = errors.New("generation service returned no choices")
	ErrEmptyContent = errors.New("generation service returned empty content")
)

// Message roles as sent to the generation service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Provider is the interface the generation service client must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// Generate sends a completion request with optional tool bindings.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Classify invokes the provider in classification-only mode: no tools,
	// temperature 0, short output. Used by the intent router.
	Classify(ctx context.Context, system, utterance string) (string, error)
}

// Request represents a generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
}

// Message represents one chat message. ToolCalls is set on assistant
// messages that requested tools; ToolCallID on tool-result messages.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Tool represents a tool definition passed to the generation service.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Response represents a generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
	ToolCalls    []ToolCall
}

// ToolCall is a structured request from the generation service to invoke a
// named tool. Produced only by the provider; the engine never fabricates
// one except when stripping premature terminations.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// StringArg returns the named argument as a string, or "" when absent or
// not a string. Generation services routinely emit numbers where strings
// are expected, so numeric values are formatted rather than dropped.
func (tc ToolCall) StringArg(name string) string {
	v, ok := tc.Arguments[name]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// JSON numbers decode to float64; account numbers and PINs arrive
		// this way when the model omits quotes.
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
