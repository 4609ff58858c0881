package session

import (
	"strings"
	"unicode"
)

// String heuristics for routing and termination. Kept as standalone
// predicates with table-driven tests so any of them can be replaced by an
// explicit state flag later without touching the router or executor.

// yesNoTokens are one-word answers that continue a pending question.
var yesNoTokens = map[string]bool{
	"yes": true, "yeah": true, "yep": true, "sure": true, "ok": true,
	"okay": true, "correct": true, "right": true,
	"no": true, "nope": true, "nah": true,
}

// continuationWords in assistant text imply the conversation is not over,
// even when the termination tool was requested.
var continuationWords = []string{"verify", "check", "help", "provide", "account", "assist"}

// closingWords terminate a call when present as standalone words in the
// user's utterance. Matched on word boundaries so "maybe" never reads as
// "bye".
var closingWords = map[string]bool{
	"bye": true, "goodbye": true,
}

// closingPhrases terminate when present as substrings.
var closingPhrases = []string{
	"hang up",
	"end the call",
	"end this call",
	"that's all",
	"thats all",
	"that is all",
	"nothing else",
	"i'm done",
	"im done",
	"we're done",
	"have a good day",
}

// looksLikeShortAnswer reports whether an utterance reads as an answer to a
// pending question rather than a new intent: short, numeric, a yes/no
// token, or carrying verification vocabulary. Used by the router to keep
// the active flow stable mid-verification.
func looksLikeShortAnswer(utterance string) bool {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	if lower == "" {
		return false
	}
	tokens := strings.Fields(lower)
	if len(tokens) <= 4 {
		return true
	}
	for _, r := range lower {
		if unicode.IsDigit(r) {
			return true
		}
	}
	if strings.Contains(lower, "account") || strings.Contains(lower, "pin") {
		return true
	}
	return yesNoTokens[strings.Trim(tokens[0], ".,!?")]
}

// readsAsContinuation reports whether assistant text implies the
// conversation should continue. Generation services are observed to
// request termination opportunistically after completing sub-tasks; text
// like "let me check that for you" overrides the request.
func readsAsContinuation(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range continuationWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// containsClosingIntent reports whether the user's utterance expresses an
// explicit goodbye. Termination is conservative: without closing intent
// from the user, a requested termination tool call is stripped.
func containsClosingIntent(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, p := range closingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, tok := range strings.Fields(lower) {
		if closingWords[strings.Trim(tok, ".,!?")] {
			return true
		}
	}
	return false
}
