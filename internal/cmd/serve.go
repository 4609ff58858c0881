package cmd

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/teller/internal/config"
	"github.com/dativo-io/teller/internal/flow"
	"github.com/dativo-io/teller/internal/llm"
	"github.com/dativo-io/teller/internal/policy"
	"github.com/dativo-io/teller/internal/server"
	"github.com/dativo-io/teller/internal/session"
	"github.com/dativo-io/teller/internal/store"
	"github.com/dativo-io/teller/internal/tools"
)

var (
	serveAddr         string
	serveGlobalRPM    int
	servePerCallerRPM int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the call API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().IntVar(&serveGlobalRPM, "global-rpm", 600, "global requests/minute across all callers")
	serveCmd.Flags().IntVar(&servePerCallerRPM, "per-caller-rpm", 120, "requests/minute per caller")
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> caller name from TELLER_API_KEYS
// (comma-separated; each entry key or key:name).
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			name = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = name
	}
	return m
}

// deriveSealKey produces a deterministic 32-byte PIN sealing key from the
// data directory path. This is NOT cryptographically strong — it exists so
// `teller seed && teller serve` works out of the box while still keeping
// PINs sealed at rest with a per-machine-unique key. Set TELLER_SEAL_KEY
// for production.
func deriveSealKey(dataDir string) []byte {
	if env := os.Getenv("TELLER_SEAL_KEY"); env != "" {
		h := sha256.Sum256([]byte(env))
		return h[:]
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("teller:%s:pin-sealing", dataDir)))
	return h[:]
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	// Flow catalog: falls back to built-in defaults on load failure, then
	// hot-reloads on file change for the life of the process.
	flows := flow.LoadRegistry(ctx, cfg.FlowsPath)
	go func() {
		if err := flow.Watch(ctx, cfg.FlowsPath, flows); err != nil {
			log.Warn().Err(err).Str("path", cfg.FlowsPath).Msg("flow_config_watch_unavailable")
		}
	}()

	var provider llm.Provider
	if cfg.OpenAIBaseURL != "" {
		provider = llm.NewOpenAIProviderWithBaseURL(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
	} else {
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("no generation service credential: set TELLER_OPENAI_API_KEY or OPENAI_API_KEY")
		}
		provider = llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LLMModel)
	}

	toolRegistry := tools.NewRegistry()
	tools.RegisterBankTools(toolRegistry, st, cfg.TransactionCount)

	policyEngine, err := policy.NewEngine(ctx, cfg.MaxTurnCycles)
	if err != nil {
		return fmt.Errorf("policy engine: %w", err)
	}

	dispatcher := tools.NewDispatcher(toolRegistry, policyEngine)
	engine := session.NewEngine(session.Config{
		Provider:      provider,
		Flows:         flows,
		Tools:         toolRegistry,
		Dispatcher:    dispatcher,
		Guard:         policyEngine,
		Model:         cfg.LLMModel,
		Temperature:   cfg.LLMTemperature,
		MaxTurnCycles: cfg.MaxTurnCycles,
	})

	manager := server.NewManager(engine, time.Duration(cfg.SessionIdleMin)*time.Minute)
	manager.StartJanitor()
	defer manager.StopJanitor()

	apiKeys := parseAPIKeys(os.Getenv("TELLER_API_KEYS"))
	if len(apiKeys) == 0 {
		log.Warn().Msg("TELLER_API_KEYS not set — call API is unauthenticated. Set for production.")
	}

	srv := server.NewServer(manager, apiKeys,
		server.WithCORSOrigins([]string{"*"}),
		server.WithRateLimiter(server.NewRateLimiter(serveGlobalRPM, servePerCallerRPM, apiKeys)),
	)

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("model", cfg.LLMModel).
		Str("flows_path", cfg.FlowsPath).
		Int("max_turn_cycles", cfg.MaxTurnCycles).
		Msg("teller_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
