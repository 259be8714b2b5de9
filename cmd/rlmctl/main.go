// Command rlmctl is the CLI front end for the recursive-language-model
// query engine: run one-shot queries against a set of documents, inspect
// and prune the JSONL trace files those queries leave behind, and serve
// the engine's Prometheus metrics.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

// configPath is bound by the root command's persistent --config flag and
// read by every subcommand via loadConfig.
var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise it without process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rlmctl",
		Short: "rlmctl - recursive-language-model query engine CLI",
		Long: `rlmctl drives recursive-LM queries: a planner LLM emits repl code against
a sandboxed interpreter, that code may call back into an LLM for
sub-queries over large documents, and the loop continues until a final
answer is reached.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to rlmctl config file (YAML/JSON5); uses built-in defaults when omitted")

	rootCmd.AddCommand(
		buildQueryCmd(),
		buildTraceCmd(),
		buildServeCmd(),
	)
	return rootCmd
}
