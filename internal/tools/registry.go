// Package tools provides the registry of side-effecting operations the
// generation service may request, and the dispatcher that executes them.
//
// Tool functions are total: they return descriptive failure text instead
// of errors, because their output is consumed as conversational text, not
// as a structured error channel.
package tools

import (
	"context"
	"sync"

	"github.com/dativo-io/teller/internal/llm"
)

// Tool names. The flow registry references tools by these names; end_call
// is the designated termination tool and is injected into every flow.
const (
	NameVerifyIdentity      = "verify_identity"
	NameGetBalance          = "get_balance"
	NameGetTransactions     = "get_transactions"
	NameBlockCard           = "block_card"
	NameCheckEligibility    = "check_eligibility"
	NameSupportTicket       = "support_ticket"
	NameTransferFunds       = "transfer_funds"
	NameCloseAccountRequest = "close_account_request"
	NameEndCall             = "end_call"
)

// Tool is the interface all dispatchable tools implement.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-Schema parameter object passed to the
	// generation service.
	Parameters() map[string]interface{}
	// Sensitive reports whether the tool acts on an account and therefore
	// must never run for an unverified session in a flow that requires
	// verification.
	Sensitive() bool
	// Execute runs the tool. Total: conversational failure text, no error.
	Execute(ctx context.Context, inv Invocation) Result
}

// Invocation carries one requested tool call plus the session identity
// context the tool may need. CustomerID is the verified identity handle;
// empty when the session is unverified or handle extraction failed.
type Invocation struct {
	Call       llm.ToolCall
	Verified   bool
	CustomerID string
}

// Result is the outcome of one tool execution. Identity is set only by the
// verification tool on success, carrying the identity handle as a typed
// field so downstream consumers need not re-parse the prose.
type Result struct {
	CallID   string
	Name     string
	Text     string
	Identity string
}

// Registry manages registered tools by name. Thread-safe; shared read-only
// across sessions after startup wiring.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// IsSensitive reports whether the named tool acts on an account. Unknown
// tools are treated as sensitive — fail closed.
func (r *Registry) IsSensitive(name string) bool {
	tool, ok := r.Get(name)
	if !ok {
		return true
	}
	return tool.Sensitive()
}

// Schemas returns the llm.Tool definitions for the named tools, preserving
// order and skipping names with no registered implementation.
func (r *Registry) Schemas(names []string) []llm.Tool {
	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		tool, ok := r.Get(name)
		if !ok {
			continue
		}
		out = append(out, llm.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return out
}
