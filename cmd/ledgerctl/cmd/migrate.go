package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignatzorin/escrow-ledger/internal/db"
	"github.com/ignatzorin/escrow-ledger/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции схемы леджера",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := db.RunMigrations(cmd.Context(), env.conn, migrations.FS); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "миграции применены")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
