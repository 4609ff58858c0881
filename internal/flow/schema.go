// Package flow manages the catalog of conversation flows: their permitted
// tools, sensitivity, behavioral instructions, escalation policy, and
// routing keywords. The registry is immutable per snapshot and safely
// shared across all sessions; hot reload swaps the snapshot atomically.
package flow

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// General is the catch-all flow id. Every unknown or unclassifiable intent
// resolves here; the registry guarantees it always exists.
const General = "general"

// Document is the top-level flow configuration document.
type Document struct {
	Persona  string                 `yaml:"persona" json:"persona"`
	Greeting string                 `yaml:"greeting" json:"greeting"`
	Flows    map[string]*Definition `yaml:"flows" json:"flows"`
}

// Definition is one immutable conversation flow.
type Definition struct {
	Name                 string      `yaml:"-" json:"-"`
	Priority             int         `yaml:"priority" json:"priority"`
	Description          string      `yaml:"description" json:"description"`
	RequiresVerification bool        `yaml:"requires_verification" json:"requires_verification"`
	Tools                []string    `yaml:"tools" json:"tools"`
	Keywords             []string    `yaml:"keywords" json:"keywords"`
	PreVerification      []string    `yaml:"pre_verification_instructions" json:"pre_verification_instructions"`
	PostVerification     []string    `yaml:"post_verification_instructions" json:"post_verification_instructions"`
	Escalation           *Escalation `yaml:"escalation" json:"escalation"`
}

// Escalation bounds how long a flow may keep questioning the caller before
// handing off. MaxQuestions counts assistant questions since the flow was
// entered; Message is spoken when the budget is exhausted.
type Escalation struct {
	MaxQuestions int    `yaml:"max_questions" json:"max_questions"`
	Message      string `yaml:"message" json:"message"`
}

// documentSchema validates the structural shape of a flow configuration
// document before unmarshalling. Instruction strings are opaque payload —
// only types and required fields are checked.
const documentSchema = `{
  "type": "object",
  "properties": {
    "persona": {"type": "string"},
    "greeting": {"type": "string"},
    "flows": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "priority": {"type": "integer", "minimum": 0},
          "description": {"type": "string"},
          "requires_verification": {"type": "boolean"},
          "tools": {"type": "array", "items": {"type": "string"}},
          "keywords": {"type": "array", "items": {"type": "string"}},
          "pre_verification_instructions": {"type": "array", "items": {"type": "string"}},
          "post_verification_instructions": {"type": "array", "items": {"type": "string"}},
          "escalation": {
            "type": "object",
            "properties": {
              "max_questions": {"type": "integer", "minimum": 1},
              "message": {"type": "string"}
            },
            "required": ["max_questions", "message"]
          }
        },
        "required": ["description"]
      }
    }
  },
  "required": ["flows"]
}`

// ValidateSchema checks raw YAML content against the document schema.
func ValidateSchema(content []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("converting to JSON for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("running schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("flow document invalid: %v", msgs)
	}
	return nil
}
