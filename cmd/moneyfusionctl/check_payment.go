package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"moneyfusion/internal/app/bootstrap"
	"moneyfusion/internal/domain"
	"moneyfusion/internal/gateway"
)

func checkPaymentCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check-payment <token>",
		Short: "Show the local and gateway state of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checking payment: %s\n", token)

			stores, err := bootstrap.OpenStores(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			payment, err := stores.Payments.GetByToken(cmd.Context(), token)
			switch {
			case err == nil:
				describeLocal(out, payment)
			case errors.Is(err, domain.ErrNotFound):
				fmt.Fprintln(out, "Local state: no record")
			default:
				return err
			}

			resp, err := gateway.NewClient(c.cfg.Gateway, c.logger).Check(cmd.Context(), token)
			if err != nil {
				return fmt.Errorf("gateway check failed: %w", err)
			}
			status := resp.PaymentStatus()
			if status == "" {
				status = "unknown"
			}
			fmt.Fprintf(out, "MoneyFusion state: %s\n", status)
			if ref := resp.TransactionRef(); ref != "" {
				fmt.Fprintf(out, "Transaction: %s\n", ref)
			}
			if method := resp.Method(); method != "" {
				fmt.Fprintf(out, "Method: %s\n", method)
			}
			return nil
		},
	}
}

func describeLocal(out io.Writer, payment *domain.Payment) {
	fmt.Fprintf(out, "Local state: %s\n", payment.Status)
	fmt.Fprintf(out, "Amount: %s FCFA\n", payment.Amount.String())
	if payment.IsPaid() {
		fmt.Fprintf(out, "Fee: %s FCFA\n", payment.Fee.String())
		if payment.PaidAt != nil {
			fmt.Fprintf(out, "Paid at: %s\n", payment.PaidAt.Format(time.RFC3339))
		}
	}
	fmt.Fprintf(out, "Customer: %s\n", payment.CustomerName)
}
