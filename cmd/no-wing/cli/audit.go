package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/no-wing/no-wing/internal/audit"
	"github.com/no-wing/no-wing/internal/core"
)

// RegisterAuditCommands adds audit log inspection and compliance commands.
func RegisterAuditCommands(root *cobra.Command) {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the append-only audit log",
	}

	auditCmd.AddCommand(newAuditEventsCmd())
	auditCmd.AddCommand(newAuditReportCmd())
	auditCmd.AddCommand(newAuditVerifyCmd())
	auditCmd.AddCommand(newAuditVerifyCloudTrailCmd())

	root.AddCommand(auditCmd)
}

func newAuditEventsCmd() *cobra.Command {
	var (
		eventType string
		requestID string
		start     string
		end       string
		limit     int
		format    string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			filter := audit.Filter{RequestID: requestID, Limit: limit}
			if eventType != "" {
				filter.EventTypes = []core.AuditEventType{core.AuditEventType(eventType)}
			}
			if start != "" {
				t, err := parseTimeFlag(start)
				if err != nil {
					return err
				}
				filter.Start = &t
			}
			if end != "" {
				t, err := parseTimeFlag(end)
				if err != nil {
					return err
				}
				filter.End = &t
			}

			events, err := engine.Audit.Query(filter)
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(events)
			}

			if len(events) == 0 {
				fmt.Println("No audit events match.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tACTOR\tACTION\tOK\tRISK\tREQUEST")
			for _, ev := range events {
				ok := "yes"
				if !ev.Result.Success {
					ok = "NO"
				}
				action := ev.Operation.Action
				if action == "" {
					action = "-"
				}
				req := ev.RequestID
				if req == "" {
					req = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\t%s\t%s\t%s\n",
					ev.Timestamp.Format(time.RFC3339),
					ev.EventType,
					ev.Actor.Type,
					ev.Actor.Identity,
					action,
					ok,
					ev.RiskTier,
					req,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (e.g. role_assumed)")
	cmd.Flags().StringVar(&requestID, "request", "", "Filter by permission request ID")
	cmd.Flags().StringVar(&start, "start", "", "Only events at or after this time")
	cmd.Flags().StringVar(&end, "end", "", "Only events before this time")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to show (0 = all)")
	addFormatFlag(cmd, &format)
	return cmd
}

func newAuditReportCmd() *cobra.Command {
	var (
		startStr string
		endStr   string
		days     int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a compliance report over a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			end := time.Now().UTC()
			start := end.AddDate(0, 0, -days)
			if startStr != "" {
				start, err = parseTimeFlag(startStr)
				if err != nil {
					return err
				}
			}
			if endStr != "" {
				end, err = parseTimeFlag(endStr)
				if err != nil {
					return err
				}
			}

			report, err := engine.Audit.GenerateComplianceReport(start, end)
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(report)
			}

			fmt.Printf("Compliance report %s — %s\n",
				report.Start.Format(time.RFC3339), report.End.Format(time.RFC3339))
			fmt.Printf("  Total events:        %d\n", report.TotalEvents)
			fmt.Printf("  Human events:        %d\n", report.HumanEvents)
			fmt.Printf("  Agent events:        %d\n", report.AgentEvents)
			fmt.Printf("  Failed events:       %d\n", report.FailedEvents)
			fmt.Printf("  Permission requests: %d\n", report.PermissionRequestEvents)

			if len(report.Violations) == 0 {
				fmt.Println("  Violations:          none")
				return nil
			}
			fmt.Printf("  Violations:          %d\n", len(report.Violations))
			for _, v := range report.Violations {
				fmt.Printf("    %s  %s  %s/%s  %s\n",
					v.Timestamp.Format(time.RFC3339), v.Action,
					v.Actor.Type, v.Actor.Identity, v.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startStr, "start", "", "Window start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "Window end")
	cmd.Flags().IntVar(&days, "days", 7, "Window length in days when --start is unset")
	addFormatFlag(cmd, &format)
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			ok, checked, err := audit.Verify(engine.AuditDB)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("hash chain broken after %d records — log has been tampered with", checked)
			}
			fmt.Printf("Hash chain intact: %d records verified.\n", checked)
			return nil
		},
	}
}

func newAuditVerifyCloudTrailCmd() *cobra.Command {
	var (
		windowHours int
		format      string
	)

	cmd := &cobra.Command{
		Use:   "verify-cloudtrail",
		Short: "Cross-check the local log against CloudTrail",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			creds, err := activeCredentials(engine)
			if err != nil {
				return err
			}

			ctx := context.Background()
			verification := engine.Audit.VerifyCloudTrailIntegration(
				ctx,
				engine.TrailClient(creds),
				time.Duration(windowHours)*time.Hour,
			)

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(verification)
			}

			if !verification.IsConfigured {
				fmt.Println("CloudTrail: not configured or unreachable.")
				for _, e := range verification.Errors {
					fmt.Printf("  %s\n", e)
				}
				return nil
			}

			fmt.Printf("CloudTrail: configured, %d events in the last %dh.\n",
				verification.RecentEvents, windowHours)
			if verification.LastEventTime != nil {
				fmt.Printf("  Last event: %s\n", verification.LastEventTime.Format(time.RFC3339))
			}
			for _, e := range verification.Errors {
				fmt.Printf("  WARNING: %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&windowHours, "window", 24, "Verification window in hours")
	addFormatFlag(cmd, &format)
	return cmd
}
