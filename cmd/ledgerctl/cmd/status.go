package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <payment-id>",
	Short: "Показать производный статус и баланс платежа",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paymentID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("некорректный ID платежа: %w", err)
		}

		env, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.ledger.GetPayment(cmd.Context(), paymentID)
		if err != nil {
			return err
		}
		derived, err := env.ledger.CurrentStatus(cmd.Context(), paymentID)
		if err != nil {
			return err
		}
		balance, err := env.ledger.Balance(cmd.Context(), paymentID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "payment:  %s\n", p.ID)
		fmt.Fprintf(out, "amount:   %s %s\n", p.Amount.StringFixed(2), p.Currency)
		fmt.Fprintf(out, "stored:   %s\n", p.Status)
		fmt.Fprintf(out, "derived:  %s\n", derived)
		fmt.Fprintf(out, "balance:  %s\n", balance.StringFixed(2))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
