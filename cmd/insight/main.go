package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "insight"
	version = "v1.3.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "DeFi Insight crypto-analysis API",
		Version: version,
		Long: `DeFi Insight aggregates market, sentiment, and on-chain data behind an
authenticated REST API. Analyses run through pluggable agents backed by
CoinGecko, CryptoCompare, DefiLlama, CryptoPanic, LunarCrush, and
block-explorer data.`,
		RunE: runDefault,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Long:  "Start the HTTP API with all agents, providers, and storage wired up",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Providers config YAML (defaults to PROVIDERS_CONFIG)")
	serveCmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply pending SQL migrations in order, recording each in schema_migrations",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	migrateCmd.Flags().Bool("dry-run", false, "List pending migrations without applying")

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run agents against a token from the terminal",
		Long:  "One-shot analysis run without persistence, printed to stdout",
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().String("token", "", "Coin id, symbol, contract address, or coin page URL")
	analyzeCmd.Flags().String("agents", "", "Comma-separated agent names (default: all)")
	analyzeCmd.Flags().String("chain", "eth", "Chain for onchain analysis")
	analyzeCmd.Flags().Bool("json", false, "Raw JSON output")
	analyzeCmd.Flags().String("config", "", "Providers config YAML (defaults to PROVIDERS_CONFIG)")
	_ = analyzeCmd.MarkFlagRequired("token")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show a running server's provider and cache status",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("url", "http://localhost:8000", "Base URL of the running server")
	statusCmd.Flags().Bool("json", false, "Raw JSON output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, analyzeCmd, statusCmd, versionCmd)
	return rootCmd
}

// runDefault serves when stdin is not a terminal (container entrypoints run
// the bare binary); interactive shells get the help text instead.
func runDefault(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return runServe(cmd, args)
	}
	return cmd.Help()
}

// setupLogging configures the global zerolog logger. Console output only
// when stderr is a TTY; deployments get JSON lines.
func setupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func flagOrDefault(fs *pflag.FlagSet, name, fallback string) string {
	if v, err := fs.GetString(name); err == nil && v != "" {
		return v
	}
	return fallback
}
