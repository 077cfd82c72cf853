package main

import (
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// Chat Commands
// =============================================================================

// buildChatCmd creates the interactive "chat" command.
func buildChatCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <document-id>",
		Short: "Open the live chat for a document",
		Long: `Open a full-screen chat for a document. Messages travel over the live
channel when it is connected and fall back to plain requests when it is not.

Keys: enter send, ctrl+t edit title, ctrl+r reload, ctrl+p ping, esc quit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, args[0])
		},
	}
}

func buildHistoryCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <document-id>",
		Short: "Print a document's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, flags, args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the conversation as JSON")
	return cmd
}

func buildSendCmd(flags *globalFlags) *cobra.Command {
	var (
		live bool
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <document-id> <message>",
		Short: "Send one message about a document",
		Long: `Send one message. By default the message is posted as a plain request.
With --live the live channel is opened first and the command waits for the
assistant's reply, falling back to a plain request if the channel is down.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, flags, args[0], args[1], live, wait)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "Send over the live channel and wait for the reply")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "How long --live waits for the reply")
	return cmd
}

func buildRenameCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <document-id> <title>",
		Short: "Set the title of a document's conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRename(cmd, flags, args[0], args[1])
		},
	}
}

func buildDocumentsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List your uploaded documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocuments(cmd, flags)
		},
	}
}

// =============================================================================
// Setup Commands
// =============================================================================

func buildInitCmd(flags *globalFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, flags, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

// buildConfigCmd creates the "config" command group for inspecting the
// effective configuration.
func buildConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with flags applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd, flags)
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the JSON Schema of the config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
	)
	return cmd
}

func buildLoginCmd(flags *globalFlags) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, flags, email)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email (prompted when empty)")
	return cmd
}

func buildLogoutCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and delete the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd, flags)
		},
	}
}

// buildTokenCmd creates the "token" command group for managing the stored
// session token directly.
func buildTokenCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored session token",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [token]",
			Short: "Store a session token (read from stdin when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var token string
				if len(args) == 1 {
					token = args[0]
				}
				return runTokenSet(cmd, flags, token)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the stored session token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTokenClear(cmd, flags)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which token would be used",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTokenStatus(cmd, flags)
			},
		},
	)
	return cmd
}
