package flow

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dativo-io/teller/internal/tools"
)

// Registry resolves flow ids to definitions. Read paths are lock-free: the
// loaded document lives in an atomically swapped snapshot, so hot reload
// never blocks an in-flight turn and no session observes a half-loaded
// catalog.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	persona  string
	greeting string
	flows    map[string]*Definition
	ordered  []*Definition // sorted by priority for keyword match and router prompt
}

// NewRegistry builds a registry from a document. The general flow is
// injected when the document does not define one.
func NewRegistry(doc *Document) *Registry {
	r := &Registry{}
	r.swap(doc)
	return r
}

func (r *Registry) swap(doc *Document) {
	s := &snapshot{
		persona:  doc.Persona,
		greeting: doc.Greeting,
		flows:    make(map[string]*Definition, len(doc.Flows)+1),
	}
	if s.persona == "" {
		s.persona = DefaultPersona
	}
	if s.greeting == "" {
		s.greeting = DefaultGreeting
	}
	for name, def := range doc.Flows {
		d := *def
		d.Name = name
		s.flows[name] = &d
	}
	if _, ok := s.flows[General]; !ok {
		s.flows[General] = generalFallback()
	}
	for _, def := range s.flows {
		if def.Name != General {
			s.ordered = append(s.ordered, def)
		}
	}
	sort.Slice(s.ordered, func(i, j int) bool {
		if s.ordered[i].Priority != s.ordered[j].Priority {
			return s.ordered[i].Priority < s.ordered[j].Priority
		}
		return s.ordered[i].Name < s.ordered[j].Name
	})
	r.snap.Store(s)
}

// Reload replaces the current snapshot with doc. Sessions pick up the new
// catalog on their next turn.
func (r *Registry) Reload(doc *Document) {
	r.swap(doc)
}

// Resolve returns the definition for flowID, falling back to the general
// flow for unknown ids. Never returns nil.
func (r *Registry) Resolve(flowID string) *Definition {
	s := r.snap.Load()
	if def, ok := s.flows[flowID]; ok {
		return def
	}
	return s.flows[General]
}

// Known reports whether flowID names a registered flow (including general).
func (r *Registry) Known(flowID string) bool {
	_, ok := r.snap.Load().flows[flowID]
	return ok
}

// IsSensitive reports whether flowID requires identity verification before
// any account-affecting tool executes. Unknown ids resolve to general,
// which is never sensitive.
func (r *Registry) IsSensitive(flowID string) bool {
	return r.Resolve(flowID).RequiresVerification
}

// ToolsFor returns the ordered permitted tool names for flowID. The
// termination tool is always present and duplicates are dropped while
// preserving first-seen order.
func (r *Registry) ToolsFor(flowID string) []string {
	def := r.Resolve(flowID)
	seen := make(map[string]bool, len(def.Tools)+1)
	out := make([]string, 0, len(def.Tools)+1)
	for _, name := range def.Tools {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if !seen[tools.NameEndCall] {
		out = append(out, tools.NameEndCall)
	}
	return out
}

// Persona returns the base persona text for directive composition.
func (r *Registry) Persona() string {
	return r.snap.Load().persona
}

// Greeting returns the greeting spoken when a session opens.
func (r *Registry) Greeting() string {
	return r.snap.Load().greeting
}

// MatchKeyword scans an utterance for configured flow keywords and returns
// the highest-priority matching flow. Security-critical intents (card
// loss, theft) must not depend on probabilistic classification, so this
// runs before any generation call.
func (r *Registry) MatchKeyword(utterance string) (string, bool) {
	lower := strings.ToLower(utterance)
	for _, def := range r.snap.Load().ordered {
		for _, kw := range def.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				return def.Name, true
			}
		}
	}
	return "", false
}

// RouterPrompt builds the classification prompt enumerating all registered
// flows by priority plus the implicit general catch-all. The router
// coerces any output that is not a registered flow id to general.
func (r *Registry) RouterPrompt() string {
	s := r.snap.Load()
	var b strings.Builder
	b.WriteString("You are a banking call router. Classify the caller's intent into EXACTLY ONE category.\n\n")
	b.WriteString("=== AVAILABLE FLOWS ===\n")
	for i, def := range s.ordered {
		fmt.Fprintf(&b, "%d. %s", i+1, def.Name)
		if len(def.Keywords) > 0 {
			n := len(def.Keywords)
			if n > 3 {
				n = 3
			}
			fmt.Fprintf(&b, " [keywords: %s]", strings.Join(def.Keywords[:n], ", "))
		}
		b.WriteString("\n")
		if def.Description != "" {
			fmt.Fprintf(&b, "   %s\n", def.Description)
		}
	}
	fmt.Fprintf(&b, "%d. %s (greeting, chitchat, unclear intent)\n", len(s.ordered)+1, General)
	b.WriteString("\nIf both a card-safety and an account-information intent are present, prioritize card safety.\n")
	b.WriteString("Output ONLY the flow name, nothing else.")
	return b.String()
}
