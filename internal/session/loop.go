package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/teller/internal/flow"
	"github.com/dativo-io/teller/internal/llm"
	tellerotel "github.com/dativo-io/teller/internal/otel"
	"github.com/dativo-io/teller/internal/policy"
	"github.com/dativo-io/teller/internal/tools"
)

var tracer = tellerotel.Tracer("github.com/dativo-io/teller/internal/session")

// DefaultMaxTurnCycles bounds consecutive executor/dispatcher cycles
// within one user turn. The loop is logically capable of running forever
// if the generation service keeps requesting tools.
const DefaultMaxTurnCycles = 6

// forcedEscalationText is spoken when the cycle budget is exhausted; the
// call terminates rather than loop.
const forcedEscalationText = "I'm having trouble completing this automatically. " +
	"Let me connect you with a human agent who can assist you further. Thank you for calling."

// CycleGuard decides whether another executor/dispatcher cycle may run.
// Implemented by the policy engine; nil falls back to the static cap.
type CycleGuard interface {
	EvaluateLoopContainment(ctx context.Context, cycle int) (*policy.Decision, error)
}

// Config wires an Engine.
type Config struct {
	Provider      llm.Provider
	Flows         *flow.Registry
	Tools         *tools.Registry
	Dispatcher    *tools.Dispatcher
	Guard         CycleGuard
	Model         string
	Temperature   float64
	MaxTurnCycles int
}

// Engine processes turns for any number of sessions. Stateless across
// sessions; all per-call state lives in the Session.
type Engine struct {
	provider    llm.Provider
	flows       *flow.Registry
	toolReg     *tools.Registry
	dispatcher  *tools.Dispatcher
	guard       CycleGuard
	model       string
	temperature float64
	maxCycles   int
}

// NewEngine creates a turn engine.
func NewEngine(cfg Config) *Engine {
	maxCycles := cfg.MaxTurnCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxTurnCycles
	}
	return &Engine{
		provider:    cfg.Provider,
		flows:       cfg.Flows,
		toolReg:     cfg.Tools,
		dispatcher:  cfg.Dispatcher,
		guard:       cfg.Guard,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxCycles:   maxCycles,
	}
}

// TurnOutput is everything one inbound message produced: the assistant
// utterances to speak, in order, and whether the call ended.
type TurnOutput struct {
	Messages []string
	CallOver bool
}

// Greet opens the session with the configured greeting and returns it.
func (e *Engine) Greet(ctx context.Context, s *Session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	greeting := e.flows.Greeting()
	s.appendAssistant(greeting, nil)
	return greeting
}

// ProcessTurn runs one full inbound message through the engine:
// Router → Gate → Executor → [Dispatcher → Gate → Executor]* until the
// executor requests no more tools, the call ends, or the cycle budget is
// exhausted. Strictly sequential per session; concurrent calls for the
// same session serialize on its lock.
func (e *Engine) ProcessTurn(ctx context.Context, s *Session, utterance string) (*TurnOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callOver {
		return nil, ErrCallOver
	}
	s.lastActivity = time.Now()

	ctx, span := tracer.Start(ctx, "session.turn",
		trace.WithAttributes(attribute.String("call_id", s.id)))
	defer span.End()

	s.appendUser(utterance)
	e.route(ctx, s, utterance)
	e.gate(ctx, s)

	out := &TurnOutput{}
	for cycle := 0; ; cycle++ {
		if !e.cycleAllowed(ctx, s, cycle) {
			s.appendAssistant(forcedEscalationText, nil)
			s.callOver = true
			out.Messages = append(out.Messages, forcedEscalationText)
			break
		}

		calls, callOver := e.execute(ctx, s)
		if t := s.lastTurn(); t != nil && t.Kind == TurnAssistant && t.Text != "" {
			out.Messages = append(out.Messages, t.Text)
		}

		if len(calls) > 0 {
			results := e.dispatcher.Dispatch(ctx, tools.SessionInfo{
				CallID:                   s.id,
				Verified:                 s.verified,
				CustomerID:               s.customerID,
				FlowRequiresVerification: e.flows.IsSensitive(s.activeFlow),
			}, invocations(calls))
			for _, r := range results {
				s.appendTool(r.CallID, r.Name, r.Text, r.Identity)
			}
			e.gate(ctx, s)
		}

		if callOver {
			s.callOver = true
			if len(out.Messages) == 0 {
				goodbye := responseFallbacks[ResponseClosingGoodbye]
				s.appendAssistant(goodbye, nil)
				out.Messages = append(out.Messages, goodbye)
			}
			log.Info().Str("call_id", s.id).Func(tellerotel.LogTraceFields(ctx)).Msg("call_terminated")
			break
		}
		if len(calls) == 0 {
			break
		}
	}

	out.CallOver = s.callOver
	span.SetAttributes(
		attribute.Int("messages", len(out.Messages)),
		attribute.Bool("call_over", out.CallOver),
	)
	return out, nil
}

// cycleAllowed consults the policy guard, falling back to the static cap
// when no guard is wired or the guard fails.
func (e *Engine) cycleAllowed(ctx context.Context, s *Session, cycle int) bool {
	if e.guard != nil {
		dec, err := e.guard.EvaluateLoopContainment(ctx, cycle)
		if err == nil {
			if !dec.Allowed {
				log.Warn().Str("call_id", s.id).Int("cycle", cycle).Strs("reasons", dec.Reasons).Msg("turn_cycle_budget_exhausted")
			}
			return dec.Allowed
		}
		log.Warn().Err(err).Str("call_id", s.id).Msg("cycle_guard_error_using_static_cap")
	}
	if cycle >= e.maxCycles {
		log.Warn().Str("call_id", s.id).Int("cycle", cycle).Msg("turn_cycle_budget_exhausted")
		return false
	}
	return true
}

func invocations(calls []llm.ToolCall) []tools.Invocation {
	out := make([]tools.Invocation, len(calls))
	for i, c := range calls {
		out[i] = tools.Invocation{Call: c}
	}
	return out
}
