/*
main.go - Application entry point

PURPOSE:
  Builds the toild command tree and executes it.

COMMANDS:
  serve     Run the HTTP API, the calculation queue and the sweep scheduler
  repair    Reconcile tombstones left by an interrupted deletion
  expire    Expire accruals older than the expiry horizon
  cleanup   Remove duplicate ledger rows

SEE ALSO:
  - root.go: Persistent flags and configuration loading
  - serve.go: Server startup and graceful shutdown
  - maintenance.go: One-shot maintenance commands
*/
package main

import (
	"os"
)

func main() {
	rootCmd := buildRootCommand()
	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildRepairCommand())
	rootCmd.AddCommand(buildExpireCommand())
	rootCmd.AddCommand(buildCleanupCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
