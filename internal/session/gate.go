package session

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	tellerotel "github.com/dativo-io/teller/internal/otel"
	"github.com/dativo-io/teller/internal/tools"
)

// verificationDirective is injected for sensitive flows while the session
// is unverified. It reaches the generation service as a system message.
const verificationDirective = "The caller's identity is NOT verified. Before disclosing or changing " +
	"any account information, collect the 4-digit account number and PIN and call verify_identity. " +
	"If the caller cannot recall the account number, a customer ID or phone number also works. " +
	"Do not reveal balances, transactions, or card status until verification succeeds."

// identityHandlePattern recovers the identity handle from verification
// success text when no typed handle accompanied the result. Untrusted
// parsing: a miss leaves the handle unset rather than failing the
// verification transition.
var identityHandlePattern = regexp.MustCompile(`Customer ID: (\w+)`)

// gate applies verification policy between dispatch and the next
// generation call. The only path by which a session becomes verified is a
// successful verification tool result observed here.
func (e *Engine) gate(ctx context.Context, s *Session) {
	ctx, span := tracer.Start(ctx, "session.gate")
	defer span.End()

	if last := s.lastTurn(); last != nil && last.Kind == TurnTool {
		if handle, ok := verificationOutcome(last); ok {
			s.markVerified(handle)
			if handle == "" {
				// Defined edge case: verification stands, but every account
				// tool needing the handle will answer with recoverable
				// failure text instead of operating on an empty identity.
				log.Warn().Str("call_id", s.id).Msg("verification_succeeded_without_identity_handle")
			} else {
				log.Info().Str("call_id", s.id).Str("customer_id", handle).Func(tellerotel.LogTraceFields(ctx)).Msg("session_verified")
			}
			return
		}
	}

	if e.flows.IsSensitive(s.activeFlow) && !s.verified {
		if d := s.lastTurn(); d != nil && d.Kind == TurnDirective && d.Text == verificationDirective {
			return
		}
		s.appendDirective(verificationDirective)
		log.Debug().Str("call_id", s.id).Str("flow", s.activeFlow).Msg("verification_directive_injected")
	}
}

// verificationOutcome inspects a tool result turn for successful identity
// verification. The typed handle set by the local verification tool is
// preferred; text parsing is the fallback for results that arrive as prose
// only.
func verificationOutcome(t *Turn) (handle string, ok bool) {
	if t.Identity != "" {
		return t.Identity, true
	}
	if !strings.HasPrefix(t.Text, tools.VerifiedPrefix) {
		return "", false
	}
	if m := identityHandlePattern.FindStringSubmatch(t.Text); m != nil {
		return m[1], true
	}
	return "", true
}
