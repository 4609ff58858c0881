package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/teller/internal/tools"
)

func newTestEngine(t *testing.T, maxCycles int) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), maxCycles)
	require.NoError(t, err)
	return e
}

func TestAuthorizeTool_DeniesSensitiveUnverified(t *testing.T) {
	e := newTestEngine(t, 6)

	allowed, reasons, err := e.AuthorizeTool(context.Background(), tools.ToolAccessInput{
		ToolName:                 "get_balance",
		Sensitive:                true,
		Verified:                 false,
		FlowRequiresVerification: true,
	})
	require.NoError(t, err)
	assert.False(t, allowed)
	require.NotEmpty(t, reasons)
	assert.Contains(t, reasons[0], "get_balance")
}

func TestAuthorizeTool_AllowsVerified(t *testing.T) {
	e := newTestEngine(t, 6)

	allowed, reasons, err := e.AuthorizeTool(context.Background(), tools.ToolAccessInput{
		ToolName:                 "get_balance",
		Sensitive:                true,
		Verified:                 true,
		FlowRequiresVerification: true,
	})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, reasons)
}

func TestAuthorizeTool_AllowsSensitiveInNonVerifyingFlow(t *testing.T) {
	e := newTestEngine(t, 6)

	allowed, _, err := e.AuthorizeTool(context.Background(), tools.ToolAccessInput{
		ToolName:                 "support_ticket",
		Sensitive:                true,
		Verified:                 false,
		FlowRequiresVerification: false,
	})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAuthorizeTool_AllowsNonSensitive(t *testing.T) {
	e := newTestEngine(t, 6)

	allowed, _, err := e.AuthorizeTool(context.Background(), tools.ToolAccessInput{
		ToolName:                 "verify_identity",
		Sensitive:                false,
		Verified:                 false,
		FlowRequiresVerification: true,
	})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEvaluateLoopContainment(t *testing.T) {
	e := newTestEngine(t, 3)

	for cycle := 0; cycle < 3; cycle++ {
		dec, err := e.EvaluateLoopContainment(context.Background(), cycle)
		require.NoError(t, err)
		assert.True(t, dec.Allowed, "cycle %d within budget", cycle)
	}

	dec, err := e.EvaluateLoopContainment(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	require.NotEmpty(t, dec.Reasons)
	assert.Contains(t, dec.Reasons[0], "cycle budget exhausted")
}
