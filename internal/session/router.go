package session

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dativo-io/teller/internal/flow"
	"github.com/dativo-io/teller/internal/llm"
	tellerotel "github.com/dativo-io/teller/internal/otel"
)

// route assigns the active flow for the latest utterance. First match
// wins, in order:
//
//  1. Deterministic keyword match. Security-critical intents (card loss,
//     theft) must not depend on probabilistic classification.
//  2. Continuation heuristic: a short answer inside a non-general flow
//     keeps the flow unchanged; switching mid-verification would be a
//     usability and security regression.
//  3. Generative classification, sanitized: any output that is not a
//     registered flow id is coerced to general.
//
// route never fails: classification errors degrade to general.
func (e *Engine) route(ctx context.Context, s *Session, utterance string) {
	ctx, span := tracer.Start(ctx, "session.route",
		trace.WithAttributes(attribute.String("call_id", s.id)))
	defer span.End()

	next, method := e.classify(ctx, s, utterance)
	span.SetAttributes(
		attribute.String("flow.assigned", next),
		attribute.String("flow.method", method),
	)
	if next != s.activeFlow {
		log.Info().
			Str("call_id", s.id).
			Str("from", s.activeFlow).
			Str("to", next).
			Str("method", method).
			Func(tellerotel.LogTraceFields(ctx)).
			Msg("flow_routed")
	}
	s.setFlow(next)
}

func (e *Engine) classify(ctx context.Context, s *Session, utterance string) (flowID, method string) {
	if matched, ok := e.flows.MatchKeyword(utterance); ok {
		return matched, "keyword"
	}

	if s.activeFlow != flow.General && looksLikeShortAnswer(utterance) {
		return s.activeFlow, "continuation"
	}

	cctx, cancel := context.WithTimeout(ctx, llm.TimeoutClassify)
	defer cancel()
	out, err := e.provider.Classify(cctx, e.flows.RouterPrompt(), utterance)
	if err != nil {
		log.Warn().Err(err).Str("call_id", s.id).Msg("intent_classification_failed_defaulting_general")
		return flow.General, "fallback"
	}
	if !e.flows.Known(out) {
		log.Debug().Str("call_id", s.id).Str("raw", out).Msg("unknown_flow_coerced_to_general")
		return flow.General, "coerced"
	}
	return out, "classified"
}
