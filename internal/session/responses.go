package session

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/teller/internal/llm"
)

// ResponseKind selects a contextual system utterance: idle nudges, closing
// messages, and the pardon for unintelligible or empty input.
type ResponseKind string

const (
	ResponseNudge          ResponseKind = "nudge"
	ResponseClosingSilence ResponseKind = "closing_silence"
	ResponseClosingGoodbye ResponseKind = "closing_goodbye"
	ResponsePardon         ResponseKind = "pardon"
)

var responsePrompts = map[ResponseKind]string{
	ResponseNudge: "The user has been silent for a while. Generate a short, polite, one-sentence nudge " +
		"asking if they are still there or need more time. Do not repeat the last assistant message.",
	ResponseClosingSilence: "The user has been silent for too long. Generate a polite one-sentence closing " +
		"message to end the call.",
	ResponseClosingGoodbye: "The call is ending. Generate a warm, polite one-sentence goodbye message.",
	ResponsePardon: "The user said something unintelligible or empty. Generate a polite one-sentence request " +
		"for them to repeat themselves.",
}

var responseFallbacks = map[ResponseKind]string{
	ResponseNudge:          "Are you still there?",
	ResponseClosingSilence: "I am not hearing any response. Goodbye.",
	ResponseClosingGoodbye: "Thank you for calling. Goodbye.",
	ResponsePardon:         "I'm sorry, I didn't catch that. Could you say it again?",
}

// contextualTemperature keeps these small utterances natural rather than
// templated.
const contextualTemperature = 0.7

// ContextualResponse generates a short system utterance grounded in the
// recent conversation. Total: on any generation failure the deterministic
// fallback for the kind is returned. The result is NOT appended to the
// transcript by this method; callers that speak it should record it.
func (e *Engine) ContextualResponse(ctx context.Context, s *Session, kind ResponseKind) string {
	prompt, ok := responsePrompts[kind]
	if !ok {
		return responseFallbacks[ResponseNudge]
	}

	s.mu.Lock()
	history := recentSpokenHistory(s.transcript, 4)
	s.mu.Unlock()

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: prompt})
	msgs = append(msgs, history...)

	cctx, cancel := context.WithTimeout(ctx, llm.TimeoutClassify)
	defer cancel()
	resp, err := e.provider.Generate(cctx, &llm.Request{
		Model:       e.model,
		Messages:    msgs,
		Temperature: contextualTemperature,
	})
	if err != nil {
		log.Warn().Err(err).Str("call_id", s.id).Str("kind", string(kind)).Msg("contextual_response_fallback")
		return responseFallbacks[kind]
	}
	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return responseFallbacks[kind]
	}
	return out
}

// recentSpokenHistory extracts the last n spoken turns, dropping tool
// results and directives and stripping tool-call payloads.
func recentSpokenHistory(transcript []Turn, n int) []llm.Message {
	var spoken []llm.Message
	for _, t := range transcript {
		switch t.Kind {
		case TurnUser:
			spoken = append(spoken, llm.Message{Role: llm.RoleUser, Content: t.Text})
		case TurnAssistant:
			if t.Text != "" {
				spoken = append(spoken, llm.Message{Role: llm.RoleAssistant, Content: t.Text})
			}
		}
	}
	if len(spoken) > n {
		spoken = spoken[len(spoken)-n:]
	}
	return spoken
}
