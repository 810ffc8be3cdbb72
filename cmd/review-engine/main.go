// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the review-engine CLI and server.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/review-engine/internal/observability"
	"github.com/pdiddy/review-engine/internal/secrets"
	"github.com/pdiddy/review-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// loadedSecrets holds credentials loaded from the secrets directory at
	// startup.
	loadedSecrets secrets.Secrets

	// cfg is the effective configuration: defaults, then the config file,
	// then REVIEW_ENGINE_* environment variables.
	cfg = types.DefaultConfig()

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "review-engine",
	Short: "Staged literature review generation over a local language model",
	Long: `review-engine keeps a pool of uploaded reference documents, extracts their
bibliographic metadata, and drives a local language model through the stages
of writing a literature review: paradigm analysis, outline, content and
refinement. Every generated citation refers to a pool item by its index.

Use "serve" for the HTTP API and event stream, or "run" for a headless
end-to-end review from directories of files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}
		logger = observability.NewLogger(cfg.Logging)

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := s.Keys()
			sort.Strings(keys)
			logger.Debug().Strs("keys", keys).Msg("loaded secrets")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./review-engine.yaml or ~/.config/review-engine/config.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of secret files (api-token)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("llm-url", "", "model server base URL")
	rootCmd.PersistentFlags().String("db", "", "job journal database path")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("llm.base_url", rootCmd.PersistentFlags().Lookup("llm-url"))
	_ = viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("db"))
}

// envKeys are the settings that may come from REVIEW_ENGINE_* variables,
// e.g. REVIEW_ENGINE_LLM_BASE_URL.
var envKeys = []string{
	"llm.base_url",
	"llm.model",
	"llm.timeout",
	"server.address",
	"store.path",
	"logging.level",
	"logging.format",
	"export.output_dir",
	"generation.timeout",
	"generation.citation_format",
	"extraction.use_llm",
	"extraction.pdf_backend",
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("review-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "review-engine"))
		}
	}

	// Bound flags report "" when unset; these defaults outrank that.
	def := types.DefaultConfig()
	viper.SetDefault("logging.level", def.Logging.Level)
	viper.SetDefault("llm.base_url", def.LLM.BaseURL)
	viper.SetDefault("llm.model", def.LLM.Model)
	viper.SetDefault("store.path", def.Store.Path)
	viper.SetDefault("server.address", def.Server.Address)

	viper.SetEnvPrefix("REVIEW_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		_ = viper.BindEnv(k)
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
