// Package main provides the conductor CLI.
//
// conductor runs an interactive agent session against a configured model
// provider, routing the model's tool calls to MCP extensions behind a
// permission policy.
//
// # Basic Usage
//
// Start a session:
//
//	conductor chat --config conductor.yaml
//
// Review remembered tool decisions:
//
//	conductor permissions list
//	conductor permissions set developer__shell always_deny
//
// # Environment Variables
//
//   - CONDUCTOR_CONFIG: Path to configuration file (default: conductor.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key when provider.api_key is empty
//   - OPENAI_API_KEY: OpenAI API key when provider.api_key is empty
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "conductor - an agent runtime for MCP tools",
		Long: `conductor drives a conversation with a language model and runs the tools
it asks for through MCP extensions, asking for confirmation according to the
configured trust mode.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (or set CONDUCTOR_CONFIG)")

	rootCmd.AddCommand(
		buildChatCmd(&configPath),
		buildPermissionsCmd(&configPath),
		buildExtensionsCmd(&configPath),
		buildConfigCmd(&configPath),
	)
	return rootCmd
}
