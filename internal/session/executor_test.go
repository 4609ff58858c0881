package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/teller/internal/llm"
	"github.com/dativo-io/teller/internal/testutil"
	"github.com/dativo-io/teller/internal/tools"
)

func TestExecute_BindsPermittedToolsOnly(t *testing.T) {
	p := &testutil.ScriptedProvider{Responses: []*llm.Response{textResponse("How can I help?")}}
	e := newTestEngine(t, p)
	s := NewSession("t1")
	s.setFlow("card_atm_issues")
	s.appendUser("I lost my card")

	e.execute(context.Background(), s)

	require.Equal(t, 1, p.CallCount)
	// The request carried the flow's tools plus end_call; nothing else.
	// (ReceivedMessages only captures messages; tool bindings are asserted
	// indirectly via ToolsFor in the flow tests.)
	names := e.flows.ToolsFor("card_atm_issues")
	assert.Equal(t, []string{tools.NameVerifyIdentity, tools.NameBlockCard, tools.NameEndCall}, names)
}

func TestExecute_DirectivePreVsPostVerification(t *testing.T) {
	e := newTestEngine(t, &testutil.ScriptedProvider{})
	s := NewSession("t1")
	s.setFlow("card_atm_issues")

	pre := e.composeDirective(s)
	assert.Contains(t, pre, "Collect the account number and PIN.")
	assert.NotContains(t, pre, "VERIFIED as customer")

	s.markVerified("ACC1")
	post := e.composeDirective(s)
	assert.Contains(t, post, "Confirm, then call block_card.")
	assert.Contains(t, post, "VERIFIED as customer ACC1")
	assert.Contains(t, post, `get_balance(customer_id="ACC1")`)
}

func TestExecute_DirectiveStandingRules(t *testing.T) {
	e := newTestEngine(t, &testutil.ScriptedProvider{})
	s := NewSession("t1")

	d := e.composeDirective(s)
	assert.Contains(t, d, "CRITICAL DATA RULE")
	assert.Contains(t, d, "TERMINATION RULE")
	assert.True(t, strings.HasPrefix(d, "You are Tess"), "persona comes first")
}

func TestExecute_DirectiveVerifiedWithoutHandle(t *testing.T) {
	e := newTestEngine(t, &testutil.ScriptedProvider{})
	s := NewSession("t1")
	s.markVerified("")

	d := e.composeDirective(s)
	assert.Contains(t, d, "no identity handle is on record")
	assert.NotContains(t, d, "VERIFIED as customer")
}

func TestExecute_EscalationBudget(t *testing.T) {
	e := newTestEngine(t, &testutil.ScriptedProvider{})
	s := NewSession("t1")
	s.setFlow("card_atm_issues")

	d := e.composeDirective(s)
	assert.Contains(t, d, "Ask at most 3 clarifying questions")

	for i := 0; i < 3; i++ {
		s.appendAssistant("Could you repeat that?", nil)
	}
	d = e.composeDirective(s)
	assert.Contains(t, d, "ESCALATION")
	assert.Contains(t, d, "Let me get a card specialist.")
}

func TestExecute_TerminationGuardConjunctive(t *testing.T) {
	endCall := toolCall("c1", tools.NameEndCall, nil)
	blockCall := toolCall("c2", tools.NameBlockCard, nil)

	tests := []struct {
		name      string
		utterance string
		resp      *llm.Response
		wantOver  bool
	}{
		{
			name:      "clean goodbye terminates",
			utterance: "thanks, bye",
			resp:      toolResponse("Goodbye!", endCall),
			wantOver:  true,
		},
		{
			name:      "bundled with another tool never terminates",
			utterance: "thanks, bye",
			resp:      toolResponse("Goodbye!", endCall, blockCall),
			wantOver:  false,
		},
		{
			name:      "continuation text overrides",
			utterance: "thanks, bye",
			resp:      toolResponse("Let me check one more thing.", endCall),
			wantOver:  false,
		},
		{
			name:      "no closing intent from user",
			utterance: "what's my balance",
			resp:      toolResponse("Goodbye!", endCall),
			wantOver:  false,
		},
		{
			name:      "no termination request",
			utterance: "thanks, bye",
			resp:      textResponse("Goodbye!"),
			wantOver:  false,
		},
	}

	e := newTestEngine(t, &testutil.ScriptedProvider{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("t1")
			s.appendUser(tt.utterance)
			assert.Equal(t, tt.wantOver, e.detectTermination(s, tt.resp))
		})
	}
}

func TestFilterPrematureTermination(t *testing.T) {
	endCall := toolCall("c1", tools.NameEndCall, nil)
	blockCall := toolCall("c2", tools.NameBlockCard, nil)

	// Bundled: the termination call is stripped, the real work survives.
	out := filterPrematureTermination([]llm.ToolCall{endCall, blockCall}, false)
	require.Len(t, out, 1)
	assert.Equal(t, tools.NameBlockCard, out[0].Name)

	// Guard confirmed the end: the call passes through for its marker result.
	out = filterPrematureTermination([]llm.ToolCall{endCall}, true)
	require.Len(t, out, 1)
	assert.Equal(t, tools.NameEndCall, out[0].Name)

	// Unconfirmed solo termination is stripped.
	out = filterPrematureTermination([]llm.ToolCall{endCall}, false)
	assert.Empty(t, out)
}

func TestExecute_GenerationFailureStaysConversational(t *testing.T) {
	p := &testutil.ScriptedProvider{ErrOnCall: 1, Err: errors.New("upstream 500")}
	e := newTestEngine(t, p)
	s := NewSession("t1")
	s.appendUser("hello")

	calls, over := e.execute(context.Background(), s)

	assert.Empty(t, calls)
	assert.False(t, over)
	last := s.lastTurn()
	require.NotNil(t, last)
	assert.Equal(t, TurnAssistant, last.Kind)
	assert.Equal(t, generationFailureText, last.Text)
}

func TestBuildMessages_RolesAndOrder(t *testing.T) {
	e := newTestEngine(t, &testutil.ScriptedProvider{})
	s := NewSession("t1")
	s.appendUser("I lost my card")
	s.appendDirective(verificationDirective)
	s.appendAssistant("Your account number, please?", nil)
	s.appendTool("c1", tools.NameVerifyIdentity, tools.VerifyFailText, "")

	msgs := e.buildMessages(s)
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role, "composed directive first")
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Equal(t, llm.RoleSystem, msgs[2].Role, "injected directive keeps transcript position")
	assert.Equal(t, llm.RoleAssistant, msgs[3].Role)
	assert.Equal(t, llm.RoleTool, msgs[4].Role)
	assert.Equal(t, "c1", msgs[4].ToolCallID)
}
