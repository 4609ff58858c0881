package flow

import "github.com/dativo-io/teller/internal/tools"

// Built-in fallbacks used when the flow configuration document is missing
// or malformed. A broken config must never prevent session start; callers
// land in a minimal general flow that can still verify identity and end
// the call.
const (
	DefaultPersona = "You are Tess, the voice assistant for Bank ABC. " +
		"Be concise, warm, and professional. Speak in short sentences suitable for a phone call."
	DefaultGreeting = "Welcome to Bank ABC. How can I help you today?"
)

// generalFallback is the catch-all flow definition.
func generalFallback() *Definition {
	return &Definition{
		Name:        General,
		Priority:    99,
		Description: "Greeting, chitchat, or unclear intent.",
		Tools:       []string{tools.NameVerifyIdentity},
	}
}

// DefaultDocument returns the minimal built-in flow set.
func DefaultDocument() *Document {
	return &Document{
		Persona:  DefaultPersona,
		Greeting: DefaultGreeting,
		Flows:    map[string]*Definition{},
	}
}
