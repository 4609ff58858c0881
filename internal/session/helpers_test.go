package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dativo-io/teller/internal/flow"
	"github.com/dativo-io/teller/internal/llm"
	"github.com/dativo-io/teller/internal/store"
	"github.com/dativo-io/teller/internal/testutil"
	"github.com/dativo-io/teller/internal/tools"
)

func testFlows() *flow.Registry {
	return flow.NewRegistry(&flow.Document{
		Persona:  "You are Tess, the voice assistant for Bank ABC.",
		Greeting: "Welcome to Bank ABC. How can I help you today?",
		Flows: map[string]*flow.Definition{
			"card_atm_issues": {
				Priority:             1,
				Description:          "Lost or stolen cards",
				RequiresVerification: true,
				Tools:                []string{tools.NameVerifyIdentity, tools.NameBlockCard},
				Keywords:             []string{"block", "lost", "stolen"},
				PreVerification:      []string{"Collect the account number and PIN."},
				PostVerification:     []string{"Confirm, then call block_card."},
				Escalation:           &flow.Escalation{MaxQuestions: 3, Message: "Let me get a card specialist."},
			},
			"account_servicing": {
				Priority:             2,
				Description:          "Balance and transactions",
				RequiresVerification: true,
				Tools:                []string{tools.NameVerifyIdentity, tools.NameGetBalance, tools.NameGetTransactions},
				Keywords:             []string{"balance", "transaction"},
			},
			"product_eligibility": {
				Priority:    5,
				Description: "Product questions",
				Tools:       []string{tools.NameCheckEligibility},
				Keywords:    []string{"loan"},
			},
		},
	})
}

// newTestEngine wires an Engine against a seeded temp store and the given
// provider. No policy guard; the static cycle cap applies.
func newTestEngine(t *testing.T, provider llm.Provider) *Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "accounts.db"), testutil.TestSealKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Seed(context.Background()))

	toolReg := tools.NewRegistry()
	tools.RegisterBankTools(toolReg, st, 3)

	return NewEngine(Config{
		Provider:      provider,
		Flows:         testFlows(),
		Tools:         toolReg,
		Dispatcher:    tools.NewDispatcher(toolReg, nil),
		Model:         "gpt-4o",
		MaxTurnCycles: 4,
	})
}

func toolCall(id, name string, args map[string]interface{}) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func textResponse(content string) *llm.Response {
	return &llm.Response{Content: content, FinishReason: "stop"}
}

func toolResponse(content string, calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{Content: content, FinishReason: "tool_calls", ToolCalls: calls}
}
