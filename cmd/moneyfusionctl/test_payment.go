package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"moneyfusion/internal/app/bootstrap"
	"moneyfusion/internal/app/payments"
	"moneyfusion/internal/gateway"
)

var minTestAmount = decimal.NewFromInt(100)

func testPaymentCmd(c *cli) *cobra.Command {
	var (
		amount string
		client string
		phone  string
	)

	cmd := &cobra.Command{
		Use:   "test-payment",
		Short: "Create a single-article test payment",
		Example: `  moneyfusionctl test-payment --amount 5000 --client "Client Test"
  moneyfusionctl test-payment --amount 250 --client Awa --phone 0700000000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := decimal.NewFromString(amount)
			if err != nil || total.LessThan(minTestAmount) {
				return fmt.Errorf("amount must be a number greater than or equal to %s FCFA", minTestAmount)
			}

			stores, err := bootstrap.OpenStores(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer stores.Close()

			svc := payments.NewPaymentService(
				stores.Payments,
				stores.Webhooks,
				gateway.NewClient(c.cfg.Gateway, c.logger),
				c.cfg.Gateway,
				c.logger,
			)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Creating payment...")
			result, err := svc.CreatePayment(cmd.Context(), payments.CreatePaymentRequest{
				TotalPrice:    total,
				LineItems:     []payments.LineItemInput{{Name: "Test article", UnitPrice: total, Quantity: 1}},
				CustomerName:  client,
				CustomerPhone: phone,
			})
			if err != nil {
				return fmt.Errorf("payment creation failed: %w", err)
			}

			fmt.Fprintln(out, "Payment created.")
			fmt.Fprintf(out, "Token: %s\n", result.Token)
			fmt.Fprintf(out, "URL: %s\n", result.PaymentURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "5000", "Amount in FCFA (at least 100)")
	cmd.Flags().StringVar(&client, "client", "Client Test", "Customer name")
	cmd.Flags().StringVar(&phone, "phone", "", "Customer phone number")

	return cmd
}
