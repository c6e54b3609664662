// Package main provides the CLI entry point for Alyn, a personal assistant
// that orchestrates a conversational interaction agent, background execution
// agents and a trigger scheduler over Telegram and HTTP.
//
// Start the server:
//
//	alyn serve --config alyn.yaml
//
// Configuration can also come from environment variables:
//
//   - OPENROUTER_API_KEY: API key for the OpenRouter LLM endpoint
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A .env file is optional; real environments set variables directly.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alyn",
		Short: "Alyn - personal assistant orchestrator",
		Long: `Alyn routes user messages through an interaction agent that can delegate
work to background execution agents and schedule future runs via triggers.

Channels: Telegram, HTTP API`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("alyn %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
