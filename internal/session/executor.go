package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/teller/internal/llm"
	"github.com/dativo-io/teller/internal/tools"
)

// generationFailureText is spoken when the generation service fails
// mid-call. The session stays alive; the caller can simply repeat.
const generationFailureText = "I'm sorry, I'm having trouble processing that right now. Could you say it again?"

// execute runs one generation turn: resolve the permitted tool set,
// compose the directive, invoke the generation service, and post-process
// the output. The assistant turn is appended to the transcript; the
// returned calls are the filtered tool requests to dispatch.
func (e *Engine) execute(ctx context.Context, s *Session) (calls []llm.ToolCall, callOver bool) {
	ctx, span := tracer.Start(ctx, "session.execute",
		trace.WithAttributes(
			attribute.String("call_id", s.id),
			attribute.String("flow", s.activeFlow),
		))
	defer span.End()

	permitted := e.flows.ToolsFor(s.activeFlow)
	req := &llm.Request{
		Model:       e.model,
		Temperature: e.temperature,
		Messages:    e.buildMessages(s),
		Tools:       e.toolReg.Schemas(permitted),
	}

	gctx, cancel := context.WithTimeout(ctx, llm.TimeoutGenerate)
	defer cancel()
	resp, err := e.provider.Generate(gctx, req)
	if err != nil {
		log.Error().Err(err).Str("call_id", s.id).Msg("generation_failed")
		span.RecordError(err)
		s.appendAssistant(generationFailureText, nil)
		return nil, false
	}

	callOver = e.detectTermination(s, resp)
	calls = filterPrematureTermination(resp.ToolCalls, callOver)
	if len(calls) < len(resp.ToolCalls) {
		log.Debug().
			Str("call_id", s.id).
			Int("stripped", len(resp.ToolCalls)-len(calls)).
			Msg("premature_termination_stripped")
	}

	s.appendAssistant(resp.Content, calls)
	span.SetAttributes(
		attribute.Int("tools.requested", len(calls)),
		attribute.Bool("call_over", callOver),
	)
	return calls, callOver
}

// buildMessages converts the directive plus transcript into the provider
// message sequence. Directive turns become system messages.
func (e *Engine) buildMessages(s *Session) []llm.Message {
	msgs := make([]llm.Message, 0, len(s.transcript)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: e.composeDirective(s)})
	for _, t := range s.transcript {
		switch t.Kind {
		case TurnUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Text})
		case TurnAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Text, ToolCalls: t.ToolCalls})
		case TurnTool:
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: t.Text, ToolCallID: t.ToolCallID})
		case TurnDirective:
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: t.Text})
		}
	}
	return msgs
}

// composeDirective builds the system prompt deterministically from the
// persona, the flow's verification-state-scoped instructions, the standing
// data and termination rules, and — only when verified — an explicit grant
// naming the identity handle and the tool forms it unlocks.
func (e *Engine) composeDirective(s *Session) string {
	def := e.flows.Resolve(s.activeFlow)

	var b strings.Builder
	b.WriteString(e.flows.Persona())
	fmt.Fprintf(&b, "\n\nCurrent focus: %s.", def.Name)

	instructions := def.PreVerification
	if s.verified {
		instructions = def.PostVerification
	}
	if len(instructions) > 0 {
		b.WriteString("\n\nInstructions for this flow:")
		for _, ins := range instructions {
			fmt.Fprintf(&b, "\n- %s", ins)
		}
	}

	if def.Escalation != nil {
		asked := s.assistantQuestionsSinceFlowEntry()
		if asked >= def.Escalation.MaxQuestions {
			fmt.Fprintf(&b, "\n\nESCALATION: You have asked %d clarifying questions, which is the limit for this topic. "+
				"Do not ask another question. Say: %q", asked, def.Escalation.Message)
		} else {
			fmt.Fprintf(&b, "\n\nAsk at most %d clarifying questions for this topic (%d asked so far). "+
				"When the budget is exhausted, say: %q", def.Escalation.MaxQuestions, asked, def.Escalation.Message)
		}
	}

	b.WriteString("\n\nCRITICAL DATA RULE: You do NOT know any account details (balance, transactions, card status) " +
		"unless a tool returned them in this conversation. Never guess or fabricate numbers; call the tool.")
	b.WriteString("\n\nTERMINATION RULE: Never call end_call to finish a task. " +
		"Only call end_call when the USER explicitly says goodbye or asks to end the call. " +
		"After completing a task, ask the user what else they need.")

	if s.verified {
		handle := s.customerID
		if handle == "" {
			b.WriteString("\n\nThe caller is verified, but no identity handle is on record. " +
				"Account tools will refuse; re-run verify_identity before any account action.")
		} else {
			fmt.Fprintf(&b, "\n\nThe caller is VERIFIED as customer %s. You may disclose account details and perform actions. "+
				"Available forms: get_balance(customer_id=%q), get_transactions(customer_id=%q), block_card(customer_id=%q). "+
				"Proceed with the request immediately.", handle, handle, handle, handle)
		}
	}

	return b.String()
}

// detectTermination applies the conjunctive call-end guard: the
// termination tool alone, no continuation language in the reply, and
// explicit closing intent in the user's last utterance. All four must
// hold; generation services request termination opportunistically.
func (e *Engine) detectTermination(s *Session, resp *llm.Response) bool {
	requested, alone := terminationRequested(resp.ToolCalls)
	if !requested || !alone {
		return false
	}
	if readsAsContinuation(resp.Content) {
		return false
	}
	if !containsClosingIntent(s.lastUserUtterance()) {
		return false
	}
	return true
}

// filterPrematureTermination strips the termination call unless the guard
// confirmed the call is actually over. A generated tool call is advisory,
// not authoritative, with respect to ending the session.
func filterPrematureTermination(calls []llm.ToolCall, callOver bool) []llm.ToolCall {
	if callOver {
		return calls
	}
	out := make([]llm.ToolCall, 0, len(calls))
	for _, tc := range calls {
		if tc.Name == tools.NameEndCall {
			continue
		}
		out = append(out, tc)
	}
	return out
}

func terminationRequested(calls []llm.ToolCall) (requested, alone bool) {
	for _, tc := range calls {
		if tc.Name == tools.NameEndCall {
			requested = true
		}
	}
	return requested, requested && len(calls) == 1
}
