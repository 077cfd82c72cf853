// Package main provides the legalcheck CLI: a terminal client for chatting
// with the LegalCheck assistant about an uploaded legal document.
//
// # Basic Usage
//
// Log in once, then open the chat for a document:
//
//	legalcheck login --email jane@example.com
//	legalcheck chat 42
//
// Non-interactive commands:
//
//	legalcheck history 42
//	legalcheck send 42 "Which clauses conflict with our policy?"
//	legalcheck rename 42 "Supplier agreement"
//	legalcheck documents
//
// # Environment Variables
//
//   - LEGALCHECK_CONFIG: path to the configuration file
//     (default: ~/.legalcheck/config.yaml)
//   - LEGALCHECK_TOKEN: session token, used before the token file
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := buildRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "legalcheck",
		Short: "LegalCheck - chat with your legal documents",
		Long: `legalcheck talks to the LegalCheck backend: it opens a live chat for a
document, falls back to plain requests when the live channel is down, and
manages the stored session token.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(rootCmd)

	rootCmd.AddCommand(
		buildChatCmd(flags),
		buildHistoryCmd(flags),
		buildSendCmd(flags),
		buildRenameCmd(flags),
		buildDocumentsCmd(flags),
		buildInitCmd(flags),
		buildConfigCmd(flags),
		buildLoginCmd(flags),
		buildLogoutCmd(flags),
		buildTokenCmd(flags),
	)
	return rootCmd
}
