// Package main provides the AskDB CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"askdb/internal/chat"
	"askdb/internal/config"
	"askdb/internal/history"
	"askdb/internal/logging"
	"askdb/internal/pool"
	"askdb/internal/reasoning"
	"askdb/internal/types"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.3.0"

var (
	// Global flags
	verbose    bool
	configPath string
	owner      string
	asJSON     bool

	// Loaded configuration and process logger
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "askdb",
	Short: "AskDB - talk to your databases in plain language",
	Long: `AskDB turns chat messages into database actions: it creates databases,
runs queries, shows schemas, and imports SQL files, resolving "the database
we were just discussing" from conversation context.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(cfg.Server.DataDir, cfg.Logging.DebugMode || verbose, cfg.Logging.Level); err != nil {
			return fmt.Errorf("failed to initialize file logging: %w", err)
		}
		logging.Boot("askdb %s starting, data_dir=%s", version, cfg.Server.DataDir)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractiveChat()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Process a single chat turn and print the result",
	Long: `Runs one message through the engine: context extraction, action
selection, execution, and prints the normalized result.

Example:
  askdb run "create a database called sales"
  askdb run --json "show me all customers"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSingleTurn,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the askdb version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("askdb %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Config file path")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "local", "Owner id scoping all databases")

	runCmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw result envelope as JSON")
	runCmd.Flags().String("file", "", "Attach a SQL file to the turn")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "askdb.yaml"
	}
	return filepath.Join(home, ".askdb", "askdb.yaml")
}

// buildEngine wires the pool, reasoning client, and dispatcher from the
// loaded config. The returned cleanup closes pool handles and stores.
func buildEngine() (*chat.Engine, *history.Store, func(), error) {
	mgr, err := pool.NewManager(cfg.Server.DataDir, cfg.Limits.MaxResultRows)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open pool: %w", err)
	}

	store, err := history.OpenStore(cfg.Server.DataDir)
	if err != nil {
		mgr.Close()
		return nil, nil, nil, fmt.Errorf("failed to open history store: %w", err)
	}

	timeout, _ := cfg.LLMTimeout()
	var client types.ReasoningClient
	if cfg.LLM.APIKey != "" {
		client = reasoning.NewClient(reasoning.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Timeout:     timeout,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
	} else {
		logging.Boot("no API key configured, falling back to rule-based intent matching")
	}

	engine := chat.NewEngine(mgr, client, chat.Limits{
		ContextWindowTurns: cfg.Limits.ContextWindowTurns,
		MaxBatchStatements: cfg.Limits.MaxBatchStatements,
		ReasoningTimeout:   timeout,
	})

	cleanup := func() {
		_ = store.Close()
		_ = mgr.Close()
	}
	return engine, store, cleanup, nil
}

func runSingleTurn(cmd *cobra.Command, args []string) error {
	engine, store, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	conversationID := uuid.NewString()
	message := strings.Join(args, " ")

	turn := newTurn(ctx, store, owner, conversationID, message)

	if path, _ := cmd.Flags().GetString("file"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		turn.File = &types.FileUpload{Filename: filepath.Base(path), Content: content}
	}

	result := engine.ProcessTurn(ctx, turn)

	recordTurn(ctx, store, conversationID, owner, message, result)

	if asJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(result.Message)
	if result.SQL != "" {
		fmt.Printf("  sql: %s\n", result.SQL)
	}
	if rendered := renderResults(result); rendered != "" {
		fmt.Println(rendered)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
