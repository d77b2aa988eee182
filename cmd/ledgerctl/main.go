// Command ledgerctl runs operator tasks against the credits database:
// schema migrations, ledger reconciliation and admin bootstrap.
package main

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/eficia/eficia-api/internal/config"
	"github.com/eficia/eficia-api/internal/pkg/database"
	"github.com/eficia/eficia-api/internal/pkg/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operator tooling for the Eficia credits backend",
	Long: `ledgerctl manages the Eficia database from the command line.
It reads the same environment variables as the API server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openDB() (*sqlx.DB, error) {
	return database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
}
