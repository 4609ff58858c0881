package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dativo-io/teller/internal/config"
	"github.com/dativo-io/teller/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the account store with demo customers",
	Long:  "Creates the demo customers (ACC1..ACC3) and their transaction history. Idempotent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "seed")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		st, err := store.Open(cfg.AccountsDBPath(), deriveSealKey(cfg.DataDir))
		if err != nil {
			return fmt.Errorf("opening account store: %w", err)
		}
		defer st.Close()

		if err := st.Seed(ctx); err != nil {
			return fmt.Errorf("seeding: %w", err)
		}

		fmt.Printf("✓ Demo data seeded: %s\n", cfg.AccountsDBPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
