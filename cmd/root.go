// Package cmd holds the linkhub CLI: the server process plus operator
// commands that drive a running server over its HTTP API.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/linkhub/internal/config"
)

var (
	flagConfig string
	flagServer string
	flagToken  string
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "linkhub",
		Short: "Link personal messaging accounts to tenant workspaces",
		Long: `linkhub orchestrates the pairing ceremony for personal telegram,
whatsapp and max accounts: QR scans, phone codes, 2FA passwords, and the
linked-account lifecycle afterwards.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath, "config file path")
	root.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8080", "running linkhub server URL")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("LINKHUB_TOKEN"), "API bearer token (env LINKHUB_TOKEN)")

	root.AddCommand(serveCmd())
	root.AddCommand(linkCmd())
	root.AddCommand(accountsCmd())

	return root
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
