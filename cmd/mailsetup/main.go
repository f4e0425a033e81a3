// Mailsetup adds IMAP accounts to a mail client.
//
// It finds the server settings for an email address, checks that the
// credentials work and stores the account, either through an interactive
// terminal wizard or through an HTTP API for other front ends.
//
// Usage:
//
//	mailsetup [command] [flags]
//
// Running without arguments launches the wizard.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/mailsetup/internal/logging"
	"github.com/nhle/mailsetup/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailsetup",
	Short: "Mail account setup",
	Long: `Set up IMAP mail accounts.

Server settings are found automatically from the ISP database, provider
autoconfig files, DNS SRV records or common host names. When nothing is
found the server can be entered by hand.

If no command is specified, the interactive wizard will launch.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runAdd,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mailsetup %s\n", version.String())
	},
}
