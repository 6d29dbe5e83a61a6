package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/persona/internal/config"
	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/llm"
	"github.com/lazypower/persona/internal/store"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "persona",
	Short: "Personal AI companions that remember you",
	Long:  "Persona keeps user profiles, memories and conversations, and assembles them into context for a language model. Single Go binary, SQLite storage.",

	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		applyKeyEnv(&cfg)
		setupLogging(cfg.Log)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.persona/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(chatCmd)
}

// applyKeyEnv honours the providers' own API key variables when the config
// does not set a key.
func applyKeyEnv(c *config.Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.AnthropicKey == "" {
		c.LLM.AnthropicKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.OpenAIKey == "" {
		c.LLM.OpenAIKey = key
	}
}

func setupLogging(lc config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(lc.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if lc.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// openDB opens the configured database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	return store.Open(dbPath)
}

// offlineEngine is an engine for commands that never talk to a backend.
func offlineEngine(db *store.DB) *engine.Engine {
	return engine.New(db, llm.Offline{}, engine.OptionsFromConfig(cfg.Engine))
}
