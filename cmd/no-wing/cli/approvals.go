package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// RegisterApprovalCommands adds the human approval workflow commands.
func RegisterApprovalCommands(root *cobra.Command) {
	apprCmd := &cobra.Command{
		Use:   "approvals",
		Short: "Approve or deny pending permission requests",
	}

	apprCmd.AddCommand(newApprovalListCmd())
	apprCmd.AddCommand(newApprovalApproveCmd())
	apprCmd.AddCommand(newApprovalDenyCmd())

	root.AddCommand(apprCmd)
}

func newApprovalListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests awaiting a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			pending, err := engine.Workflow.Pending()
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(pending)
			}

			if len(pending) == 0 {
				fmt.Println("No pending requests.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST\tACTION\tRESOURCE\tRISK\tJUSTIFICATION\tAGE")
			for _, r := range pending {
				age := time.Since(r.CreatedAt).Round(time.Minute)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.RequestID, r.Action, r.Resource, r.RiskTier,
					r.Justification, age)
			}
			return w.Flush()
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}

func newApprovalApproveCmd() *cobra.Command {
	var approver string

	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending permission request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if approver == "" {
				approver = engine.Actor().Identity
			}

			ok, err := engine.Workflow.Approve(args[0], approver)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("request %s is not pending; nothing changed", args[0])
			}
			fmt.Printf("Request %s approved by %s.\n", args[0], approver)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "as", "", "Approver identity (defaults to the current user)")
	return cmd
}

func newApprovalDenyCmd() *cobra.Command {
	var approver string

	cmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending permission request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if approver == "" {
				approver = engine.Actor().Identity
			}

			ok, err := engine.Workflow.Deny(args[0], approver)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("request %s is not pending; nothing changed", args[0])
			}
			fmt.Printf("Request %s denied by %s.\n", args[0], approver)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "as", "", "Approver identity (defaults to the current user)")
	return cmd
}
