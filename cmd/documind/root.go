package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/markdave123-py/documind/internal/app"
	"github.com/markdave123-py/documind/internal/common"
	"github.com/markdave123-py/documind/internal/config"
)

var (
	cfgFile  string
	logLevel string
	asJSON   bool

	cfg    *config.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "documind",
	Short: "DocuMind - ask questions against your own documents",
	Long: `DocuMind ingests PDF, Word, Excel and text files, indexes their passages
as embeddings and answers natural-language questions with citations.

Example usage:
  documind serve                          # Run the HTTP API
  documind ingest handbook.pdf --wait     # Upload and process a document
  documind ask "what is the vacation policy?"
  documind history default
  documind stats`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := os.Setenv("CONFIG_FILE", cfgFile); err != nil {
				return err
			}
		}

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger = common.InitLogger(cfg.LogLevel)
		return nil
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")
}

// openApp wires every dependency from the loaded config.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("startup failed: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
