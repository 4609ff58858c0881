package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/teller/internal/flow"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a flow configuration document",
	Long:  "Validates the flow document against its schema and loads it the way serve would.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ctx, span := tracer.Start(ctx, "validate")
		defer span.End()

		if validateFile == "" {
			validateFile = "flows.yaml"
		}

		content, err := os.ReadFile(validateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", validateFile)
			return fmt.Errorf("reading %s: %w", validateFile, err)
		}
		if err := flow.ValidateSchema(content); err != nil {
			log.Error().Err(err).Str("file", validateFile).Msg("flow_document_invalid")
			fmt.Fprintf(os.Stderr, "✗ Validation failed: %s\n", validateFile)
			return fmt.Errorf("validation failed: %w", err)
		}

		doc, err := flow.Load(ctx, validateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "✗ Load failed: %s\n", validateFile)
			return fmt.Errorf("loading: %w", err)
		}

		reg := flow.NewRegistry(doc)
		fmt.Printf("✓ Flow document valid: %s\n", validateFile)
		fmt.Printf("  Flows: %d (plus the built-in %s catch-all)\n", len(doc.Flows), flow.General)
		for name := range doc.Flows {
			def := reg.Resolve(name)
			fmt.Printf("  - %s (priority %d, verification=%t, tools=%d)\n",
				def.Name, def.Priority, def.RequiresVerification, len(def.Tools))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "flow document path (default: flows.yaml)")
	rootCmd.AddCommand(validateCmd)
}
