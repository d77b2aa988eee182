package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eficia/eficia-api/internal/domain/ledger"
	"github.com/eficia/eficia-api/internal/pkg/database"
	"github.com/eficia/eficia-api/internal/store/postgres"
)

func init() {
	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check every cached balance against its transaction history",
	Long: `verify recomputes each account balance from its transactions and
reports accounts whose cached balance drifted. It exits non-zero when
a discrepancy is found and never modifies data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		svc := ledger.NewService(postgres.New(db).Ledger(), cfg.LedgerMaxRetries)
		discrepancies, err := svc.Verify(cmd.Context())
		if err != nil {
			return err
		}
		return reportDiscrepancies(os.Stdout, discrepancies)
	},
}

func reportDiscrepancies(w io.Writer, discrepancies []ledger.Discrepancy) error {
	if len(discrepancies) == 0 {
		fmt.Fprintln(w, "Ledger consistent: every balance matches its history")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tOWNER\tBALANCE\tSUM\tDRIFT")
	for _, d := range discrepancies {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", d.AccountID, d.OwnerID, d.Balance, d.Sum, d.Balance-d.Sum)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%d account(s) out of balance", len(discrepancies))
}
