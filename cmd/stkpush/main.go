package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"qshop_backend/internal/client"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "stkpush",
		Short:   "Start M-Pesa payments through the marketplace bridge",
		Version: Version,
	}

	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(normalizeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func payCmd() *cobra.Command {
	var phone, amount, ref, bridge string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Send a payment prompt to a phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := client.NewInitiator(bridge, nil).InitiatePayment(ctx, phone, amount, ref)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("payment not initiated: %s", out.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&phone, "phone", "p", "", "Payer phone number, e.g. 0712345678")
	cmd.Flags().StringVarP(&amount, "amount", "a", "", "Amount in whole shillings")
	cmd.Flags().StringVarP(&ref, "ref", "r", "", "Account reference shown to the payer")
	cmd.Flags().StringVar(&bridge, "bridge", envOr("BRIDGE_URL", client.DefaultBridgeURL), "Bridge base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "Overall request timeout")

	return cmd
}

func normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [phone]",
		Short: "Print a phone number in the form the gateway expects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := client.NormalizePhone(args[0])
			if err != nil {
				return err
			}
			if !client.ValidMSISDN(n) {
				return fmt.Errorf("%d is not a valid subscriber number", n)
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
