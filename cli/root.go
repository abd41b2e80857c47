// Package cli implements the paylink command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "paylink",
		Short: "Short-lived payment links",
		Long: `paylink issues payment records that expire after a few minutes.

A record is created with an amount and an expiry and is addressed by an
identifier embedded in a shareable link. The link is redeemed by validating
the identifier before it expires.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./paylink.yaml if present)")

	root.AddCommand(
		newServeCmd(&configPath),
		newCreateCmd(&configPath),
		newValidateCmd(&configPath),
		newListCmd(&configPath),
		newPurgeCmd(&configPath),
		newConfigCmd(&configPath),
		newVersionCmd(version),
	)
	return root
}

func newVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "paylink %s\n", version)
		},
	}
}

// Execute runs the root command.
func Execute(version string) error {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
