package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerlog",
	Short: "Ledgerlog - durable log ingestion with ledger-anchored integrity",
	Long: `Ledgerlog ingests log records over HTTP, makes them durable through a
write-ahead log, stores them in MongoDB and periodically groups them
into Merkle batches whose roots are anchored on a permissioned ledger.
Any batch can later be re-verified against its anchored root.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Ledgerlog version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
}
