package tools

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tellerotel "github.com/dativo-io/teller/internal/otel"
)

var tracer = tellerotel.Tracer("github.com/dativo-io/teller/internal/tools")

// Guard authorizes a tool call before execution. Implemented by
// internal/policy; injected so the dispatcher stays policy-engine agnostic.
type Guard interface {
	AuthorizeTool(ctx context.Context, in ToolAccessInput) (allowed bool, reasons []string, err error)
}

// ToolAccessInput is the guard's decision input for one requested call.
type ToolAccessInput struct {
	ToolName                 string
	Sensitive                bool
	Verified                 bool
	FlowRequiresVerification bool
}

// SessionInfo is the slice of session state the dispatcher needs: identity
// and the active flow's sensitivity. The dispatcher never mutates session
// state; it only produces results for the loop to fold back.
type SessionInfo struct {
	CallID                   string
	Verified                 bool
	CustomerID               string
	FlowRequiresVerification bool
}

// DeniedText is spoken back to the generation service when the guard
// refuses a tool call. Conversational, like every other failure.
const DeniedText = "This action is not permitted before identity verification is complete."

// Dispatcher executes requested tool calls against the registry. Calls
// within one turn run concurrently (independent correlation ids); results
// are folded back in request order so the transcript stays deterministic.
type Dispatcher struct {
	registry *Registry
	guard    Guard
}

// NewDispatcher creates a dispatcher. guard may be nil, in which case only
// the registry's built-in sensitivity check applies.
func NewDispatcher(registry *Registry, guard Guard) *Dispatcher {
	return &Dispatcher{registry: registry, guard: guard}
}

// Dispatch executes each requested call and returns one Result per call,
// in request order. Unknown tools and guard denials produce failure-text
// results; Dispatch itself never fails.
//
// Execution continues on a detached context: if the transport disconnects
// mid-turn, in-flight financial actions are allowed to complete rather
// than being cancelled halfway — the caller discards the results instead.
func (d *Dispatcher) Dispatch(ctx context.Context, sess SessionInfo, invocations []Invocation) []Result {
	ctx, span := tracer.Start(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("call_id", sess.CallID),
			attribute.Int("tools.requested", len(invocations)),
		))
	defer span.End()

	execCtx := context.WithoutCancel(ctx)
	results := make([]Result, len(invocations))
	var wg sync.WaitGroup

	for i, inv := range invocations {
		wg.Add(1)
		go func(i int, inv Invocation) {
			defer wg.Done()
			results[i] = d.dispatchOne(execCtx, sess, inv)
		}(i, inv)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sess SessionInfo, inv Invocation) Result {
	name := inv.Call.Name
	tool, ok := d.registry.Get(name)
	if !ok {
		log.Warn().
			Str("call_id", sess.CallID).
			Str("tool", name).
			Msg("unknown_tool_requested")
		return Result{CallID: inv.Call.ID, Name: name, Text: "Unknown operation. Please continue without it."}
	}

	if !d.authorize(ctx, sess, tool) {
		log.Warn().
			Str("call_id", sess.CallID).
			Str("tool", name).
			Bool("verified", sess.Verified).
			Msg("tool_call_denied")
		return Result{CallID: inv.Call.ID, Name: name, Text: DeniedText}
	}

	inv.Verified = sess.Verified
	inv.CustomerID = sess.CustomerID
	res := tool.Execute(ctx, inv)
	log.Debug().
		Str("call_id", sess.CallID).
		Str("tool", name).
		Str("correlation_id", inv.Call.ID).
		Msg("tool_call_completed")
	return res
}

// authorize enforces the core invariant: a sensitive tool never runs while
// the session is unverified in a flow that requires verification. The
// OPA guard, when present, decides; guard failure fails closed for
// sensitive tools.
func (d *Dispatcher) authorize(ctx context.Context, sess SessionInfo, tool Tool) bool {
	if d.guard == nil {
		if tool.Sensitive() && sess.FlowRequiresVerification && !sess.Verified {
			return false
		}
		return true
	}
	allowed, reasons, err := d.guard.AuthorizeTool(ctx, ToolAccessInput{
		ToolName:                 tool.Name(),
		Sensitive:                tool.Sensitive(),
		Verified:                 sess.Verified,
		FlowRequiresVerification: sess.FlowRequiresVerification,
	})
	if err != nil {
		log.Error().Err(err).Str("tool", tool.Name()).Msg("tool_guard_error")
		return !tool.Sensitive()
	}
	if !allowed {
		log.Info().Strs("reasons", reasons).Str("tool", tool.Name()).Msg("tool_guard_denied")
	}
	return allowed
}
