// Package testutil provides shared test helpers and mocks for teller tests.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/dativo-io/teller/internal/llm"
)

// TestSealKey is 32 bytes of AES-256 key material for store tests.
var TestSealKey = []byte("12345678901234567890123456789012")

// MockProvider implements llm.Provider for tests without live API calls.
// Generate returns Content (or a canned default); Classify returns
// ClassifyResult. Set Err to simulate generation-service failure on both.
type MockProvider struct {
	ProviderName   string
	Content        string
	ClassifyResult string
	Err            error
}

// Name returns the provider identifier (implements llm.Provider).
func (m *MockProvider) Name() string { return m.ProviderName }

// Generate returns a canned response or the configured error.
func (m *MockProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Content
	if content == "" {
		content = "mock response from " + m.ProviderName
	}
	return &llm.Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 20,
		Model:        req.Model,
	}, nil
}

// Classify returns the canned classification or the configured error.
func (m *MockProvider) Classify(_ context.Context, _, _ string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return strings.ToLower(strings.TrimSpace(m.ClassifyResult)), nil
}

// ScriptedProvider implements llm.Provider for testing the turn loop. It
// returns a configurable sequence of responses (e.g. tool calls then final
// answer) and tracks call counts and received messages for assertions.
// Set ErrOnCall (1-based) and Err to fail Generate mid-loop.
type ScriptedProvider struct {
	mu               sync.Mutex
	Responses        []*llm.Response // call N gets Responses[N], or the last when exhausted
	ClassifyResult   string          // returned by every Classify call
	ClassifyErr      error
	CallCount        int // Generate calls
	ClassifyCount    int
	ReceivedMessages [][]llm.Message
	ErrOnCall        int // 1-based; 0 = never
	Err              error
}

// Name returns "openai" so provider-specific paths behave as in production.
func (p *ScriptedProvider) Name() string { return "openai" }

// Generate returns the next response in the sequence and records the request.
func (p *ScriptedProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.CallCount++
	idx := p.CallCount - 1
	// Copy messages so caller cannot mutate after the fact.
	msgCopy := make([]llm.Message, len(req.Messages))
	copy(msgCopy, req.Messages)
	p.ReceivedMessages = append(p.ReceivedMessages, msgCopy)
	resps := p.Responses
	callCount := p.CallCount
	errOnCall := p.ErrOnCall
	errReturn := p.Err
	p.mu.Unlock()

	if errOnCall > 0 && callCount == errOnCall && errReturn != nil {
		return nil, errReturn
	}
	if len(resps) == 0 {
		return &llm.Response{
			Content:      "no responses configured",
			FinishReason: "stop",
			InputTokens:  10,
			OutputTokens: 20,
			Model:        req.Model,
		}, nil
	}
	if idx >= len(resps) {
		idx = len(resps) - 1
	}
	out := resps[idx]
	// Return a copy so tests cannot mutate the stored response.
	r := &llm.Response{
		Content:      out.Content,
		FinishReason: out.FinishReason,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Model:        out.Model,
	}
	if len(out.ToolCalls) > 0 {
		r.ToolCalls = make([]llm.ToolCall, len(out.ToolCalls))
		copy(r.ToolCalls, out.ToolCalls)
	}
	return r, nil
}

// Classify returns the configured classification result.
func (p *ScriptedProvider) Classify(_ context.Context, _, _ string) (string, error) {
	p.mu.Lock()
	p.ClassifyCount++
	p.mu.Unlock()
	if p.ClassifyErr != nil {
		return "", p.ClassifyErr
	}
	return strings.ToLower(strings.TrimSpace(p.ClassifyResult)), nil
}
