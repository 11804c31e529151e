// no-wing — permission governance for an autonomous agent working on AWS
// beside a human developer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/no-wing/no-wing/cmd/no-wing/cli"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "no-wing",
		Short: "no-wing — permission governance for AI agent operations on AWS",
		Long: `no-wing issues, elevates, and audits short-lived AWS identities for an
autonomous agent acting alongside a human developer. The agent never
holds the developer's credentials; elevated permissions flow through a
mediated approval protocol, and every decision lands in an append-only
audit log.`,
		Version:      version,
		SilenceUsage: true,
	}

	cli.RegisterSetupCommands(rootCmd)
	cli.RegisterCredentialCommands(rootCmd)
	cli.RegisterPermissionCommands(rootCmd)
	cli.RegisterApprovalCommands(rootCmd)
	cli.RegisterCommitCommands(rootCmd)
	cli.RegisterAuditCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
