package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Chat
// =============================================================================

func buildChatCmd(configPath *string) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive agent session",
		Long: `Start an agent session reading user messages from stdin.

Tool confirmations are asked on the terminal. When stdin is not a terminal
every confirmation is denied. Type /exit to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.configPath = *configPath
			return runChat(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Override the trust mode for this session (auto, approve, smart_approve, chat)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Override the configured model")
	return cmd
}

// =============================================================================
// Permissions
// =============================================================================

func buildPermissionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage remembered tool decisions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List remembered decisions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPermissionsList(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "set <tool> <always_allow|always_deny>",
			Short: "Remember a decision for a tool",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runPermissionsSet(cmd, *configPath, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "reset [tool]",
			Short: "Forget one decision, or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				tool := ""
				if len(args) == 1 {
					tool = args[0]
				}
				return runPermissionsReset(cmd, *configPath, tool)
			},
		},
	)
	return cmd
}

// =============================================================================
// Extensions
// =============================================================================

func buildExtensionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extensions",
		Short: "Manage the extension catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured extensions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runExtensionsList(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "enable <name>",
			Short: "Enable an extension at startup",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runExtensionsSetEnabled(cmd, *configPath, args[0], true)
			},
		},
		&cobra.Command{
			Use:   "disable <name>",
			Short: "Stop enabling an extension at startup",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runExtensionsSetEnabled(cmd, *configPath, args[0], false)
			},
		},
	)
	return cmd
}

// =============================================================================
// Config
// =============================================================================

func buildConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, *configPath)
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the configuration file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
	)
	return cmd
}
