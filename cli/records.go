package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shohanonfire/payment-server/service"
)

func newCreateCmd(configPath *string) *cobra.Command {
	var req service.GenerateRequest

	cmd := &cobra.Command{
		Use:   "create AMOUNT",
		Short: "Create a payment record and print its link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			req.Amount = args[0]
			res, err := a.svc.Generate(req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&req.ExpiryMinutes, "expiry", "", "minutes until the link expires")
	cmd.Flags().StringVar(&req.ID, "id", "", "identifier to use instead of a random one")
	return cmd
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate ID",
		Short: "Check whether a payment record can be redeemed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Validate(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every stored record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.svc.List()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newPurgeCmd(configPath *string) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete records that expired longer ago than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("retention") {
				retention = a.cfg.PurgeRetention()
			}
			removed, err := a.svc.Purge(retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired records\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "keep records expired less than this long (default from config)")
	return cmd
}
