// Package policy evaluates dispatch-time governance rules with embedded
// OPA: sensitive-tool access and turn-cycle containment. Rules live in
// rego so the security invariant is declared once, separately from the
// session code that consults it.
package policy

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	tellerotel "github.com/dativo-io/teller/internal/otel"
	"github.com/dativo-io/teller/internal/tools"
)

var tracer = tellerotel.Tracer("github.com/dativo-io/teller/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

// Decision represents the result of policy evaluation.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// regoPolicy maps a rego file to the OPA query used to extract deny messages.
type regoPolicy struct {
	file  string
	query string
}

var allPolicies = []regoPolicy{
	{file: "rego/tool_access.rego", query: "data.teller.policy.tool_access.deny"},
	{file: "rego/loop_limits.rego", query: "data.teller.policy.loop_limits.deny"},
}

// Engine evaluates dispatch-time policies using embedded OPA.
// Implements tools.Guard.
type Engine struct {
	prepared map[string]rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with precompiled rego policies.
// maxTurnCycles is loaded as OPA data for the loop-containment rule.
func NewEngine(ctx context.Context, maxTurnCycles int) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "policy.engine.new")
	defer span.End()

	opaData := map[string]interface{}{
		"limits": map[string]interface{}{
			"max_turn_cycles": maxTurnCycles,
		},
	}

	prepared := make(map[string]rego.PreparedEvalQuery, len(allPolicies))
	for _, rp := range allPolicies {
		content, err := embeddedPolicies.ReadFile(rp.file)
		if err != nil {
			return nil, fmt.Errorf("reading embedded policy %s: %w", rp.file, err)
		}
		r := rego.New(
			rego.Query(rp.query),
			rego.Module(rp.file, string(content)),
			rego.Store(inmem.NewFromObject(opaData)),
		)
		pq, err := r.PrepareForEval(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("preparing rego policy %s: %w", rp.file, err)
		}
		prepared[rp.file] = pq
	}

	span.SetAttributes(attribute.Int("policy.prepared_count", len(prepared)))
	return &Engine{prepared: prepared}, nil
}

// AuthorizeTool checks whether the given tool call is allowed for the
// session's verification state. Implements tools.Guard.
func (e *Engine) AuthorizeTool(ctx context.Context, in tools.ToolAccessInput) (bool, []string, error) {
	ctx, span := tracer.Start(ctx, "policy.authorize_tool",
		trace.WithAttributes(attribute.String("tool.name", in.ToolName)))
	defer span.End()

	reasons, err := e.evaluateDeny(ctx, "rego/tool_access.rego", map[string]interface{}{
		"tool_name":                  in.ToolName,
		"sensitive":                  in.Sensitive,
		"verified":                   in.Verified,
		"flow_requires_verification": in.FlowRequiresVerification,
	})
	if err != nil {
		span.RecordError(err)
		return false, nil, err
	}

	allowed := len(reasons) == 0
	span.SetAttributes(
		attribute.Bool("policy.allowed", allowed),
		attribute.Int("policy.deny_reasons", len(reasons)),
	)
	return allowed, reasons, nil
}

// EvaluateLoopContainment checks whether the current executor/dispatcher
// cycle exceeds the configured cap. cycle is zero-based.
func (e *Engine) EvaluateLoopContainment(ctx context.Context, cycle int) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "policy.evaluate_loop_containment",
		trace.WithAttributes(attribute.Int("loop.cycle", cycle)))
	defer span.End()

	reasons, err := e.evaluateDeny(ctx, "rego/loop_limits.rego", map[string]interface{}{
		"cycle": cycle,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

// evaluateDeny runs a single prepared rego policy that produces a set of
// deny reason strings.
func (e *Engine) evaluateDeny(ctx context.Context, pkg string, input map[string]interface{}) ([]string, error) {
	pq, ok := e.prepared[pkg]
	if !ok {
		return nil, fmt.Errorf("policy package %s not prepared", pkg)
	}

	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", pkg, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	// Querying "data.xxx.deny" yields a set of strings; OPA returns it as
	// []interface{} or, occasionally, map[string]interface{}.
	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	return reasons, nil
}
