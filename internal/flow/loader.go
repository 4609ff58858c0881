package flow

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	tellerotel "github.com/dativo-io/teller/internal/otel"
)

var tracer = tellerotel.Tracer("github.com/dativo-io/teller/internal/flow")

// Load reads and validates a flow configuration document.
func Load(ctx context.Context, path string) (*Document, error) {
	_, span := tracer.Start(ctx, "flow.load")
	defer span.End()
	span.SetAttributes(attribute.String("flow.path", path))

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow document %s: %w", path, err)
	}

	if err := ValidateSchema(content); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	span.SetAttributes(attribute.Int("flow.count", len(doc.Flows)))
	return &doc, nil
}

// LoadRegistry builds a registry from the document at path, falling back to
// the built-in default flow set on any load failure. A bad document must
// not prevent the process from answering calls.
func LoadRegistry(ctx context.Context, path string) *Registry {
	doc, err := Load(ctx, path)
	if err != nil {
		log.Warn().Err(err).
			Str("path", path).
			Msg("flow_config_load_failed_using_builtin_defaults")
		return NewRegistry(DefaultDocument())
	}
	log.Info().
		Str("path", path).
		Int("flows", len(doc.Flows)).
		Msg("flow_config_loaded")
	return NewRegistry(doc)
}
