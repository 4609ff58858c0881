// Package session implements the per-call conversation engine: intent
// routing, verification gating, turn execution against the generation
// service, and the bounded dispatch loop that ties them together.
//
// One Session is owned by one live call. Turns within a session are
// processed strictly sequentially; sessions are independent of each other.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dativo-io/teller/internal/flow"
	"github.com/dativo-io/teller/internal/llm"
)

// ErrCallOver is returned when a turn arrives for a session that has
// already terminated.
var ErrCallOver = errors.New("call is over")

// TurnKind tags a transcript entry.
type TurnKind string

const (
	TurnUser      TurnKind = "user"
	TurnAssistant TurnKind = "assistant"
	TurnTool      TurnKind = "tool"
	// TurnDirective is an engine-injected instruction (e.g. the verification
	// gate's identity-collection directive). Sent to the generation service
	// as a system message, never spoken to the caller.
	TurnDirective TurnKind = "directive"
)

// Turn is one append-only transcript entry. Append order is the single
// source of truth for what happened when; entries are never reordered or
// rewritten.
type Turn struct {
	Kind       TurnKind
	Text       string
	ToolCalls  []llm.ToolCall // assistant turns that requested tools
	ToolCallID string         // tool turns: correlation id of the request
	ToolName   string         // tool turns: which tool produced the text
	Identity   string         // tool turns: typed identity handle, verification only
	At         time.Time
}

// Session is the complete state of one live call. All mutation happens
// under mu; ProcessTurn holds it for the duration of a turn, so no two
// components ever operate on the same session concurrently.
type Session struct {
	mu sync.Mutex

	id         string
	transcript []Turn
	activeFlow string
	verified   bool
	customerID string
	callOver   bool

	// flowEnteredIdx is the transcript length when activeFlow last changed;
	// used to count assistant questions against a flow's escalation budget.
	flowEnteredIdx int

	createdAt    time.Time
	lastActivity time.Time
}

// NewSession creates a session in the general flow with an empty transcript.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		activeFlow:   flow.General,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CallOver reports whether the session has terminated. Terminal: once
// true, no further turns are processed.
func (s *Session) CallOver() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callOver
}

// Verified reports the verification state and identity handle. The handle
// may be empty even when verified, if extraction failed.
func (s *Session) Verified() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified, s.customerID
}

// ActiveFlow returns the current flow id.
func (s *Session) ActiveFlow() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFlow
}

// LastActivity returns the time of the most recent processed turn. Used by
// the idle janitor.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Transcript returns a copy of the transcript.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// The append helpers below are called with mu already held by the engine.

func (s *Session) appendUser(text string) {
	s.transcript = append(s.transcript, Turn{Kind: TurnUser, Text: text, At: time.Now()})
}

func (s *Session) appendAssistant(text string, calls []llm.ToolCall) {
	s.transcript = append(s.transcript, Turn{Kind: TurnAssistant, Text: text, ToolCalls: calls, At: time.Now()})
}

func (s *Session) appendTool(callID, name, text, identity string) {
	s.transcript = append(s.transcript, Turn{
		Kind:       TurnTool,
		Text:       text,
		ToolCallID: callID,
		ToolName:   name,
		Identity:   identity,
		At:         time.Now(),
	})
}

func (s *Session) appendDirective(text string) {
	s.transcript = append(s.transcript, Turn{Kind: TurnDirective, Text: text, At: time.Now()})
}

// setFlow records a routing decision, resetting the escalation question
// count when the flow actually changes.
func (s *Session) setFlow(flowID string) {
	if flowID == s.activeFlow {
		return
	}
	s.activeFlow = flowID
	s.flowEnteredIdx = len(s.transcript)
}

// markVerified transitions verification state. Monotonic: verified never
// reverts, and a once-set identity handle is never overwritten.
func (s *Session) markVerified(customerID string) {
	s.verified = true
	if s.customerID == "" {
		s.customerID = customerID
	}
}

// lastUserUtterance returns the text of the most recent user turn.
func (s *Session) lastUserUtterance() string {
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Kind == TurnUser {
			return s.transcript[i].Text
		}
	}
	return ""
}

// lastTurn returns the most recent transcript entry, or nil when empty.
func (s *Session) lastTurn() *Turn {
	if len(s.transcript) == 0 {
		return nil
	}
	return &s.transcript[len(s.transcript)-1]
}

// assistantQuestionsSinceFlowEntry counts assistant turns that asked a
// question since the current flow was entered, for escalation budgets.
func (s *Session) assistantQuestionsSinceFlowEntry() int {
	n := 0
	for i := s.flowEnteredIdx; i < len(s.transcript); i++ {
		t := s.transcript[i]
		if t.Kind == TurnAssistant && strings.Contains(t.Text, "?") {
			n++
		}
	}
	return n
}
