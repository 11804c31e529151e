package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/elevation"
)

// RegisterPermissionCommands adds role discovery and permission elevation
// commands.
func RegisterPermissionCommands(root *cobra.Command) {
	permCmd := &cobra.Command{
		Use:   "permissions",
		Short: "Discover roles and manage permission elevation",
	}

	permCmd.AddCommand(newPermissionListRolesCmd())
	permCmd.AddCommand(newPermissionTestRoleCmd())
	permCmd.AddCommand(newPermissionElevateCmd())
	permCmd.AddCommand(newPermissionRequestsCmd())
	permCmd.AddCommand(newPermissionStatsCmd())
	permCmd.AddCommand(newPermissionSessionsCmd())
	permCmd.AddCommand(newPermissionCapabilitiesCmd())

	root.AddCommand(permCmd)
}

func newPermissionListRolesCmd() *cobra.Command {
	var (
		pattern string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "list-roles",
		Short: "List IAM roles the active profile can assume",
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
			mgr, err := engine.RoleManager(ctx, creds)
			if err != nil {
				return err
			}

			result, err := mgr.ListAvailableRoles(ctx)
			if err != nil {
				return err
			}

			roles := result.Roles
			if pattern != "" {
				var filtered []core.Role
				for _, r := range roles {
					if strings.Contains(r.Name, pattern) || strings.Contains(r.ResourcePattern, pattern) {
						filtered = append(filtered, r)
					}
				}
				roles = filtered
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(roles)
			}

			for _, warn := range result.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", warn)
			}

			if len(roles) == 0 {
				fmt.Println("No assumable roles found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCOPE\tACTIONS\tMAX_SESSION")
			for _, r := range roles {
				scope := r.ResourcePattern
				if scope == "" {
					scope = "(untagged)"
				}
				actions := "-"
				if len(r.AllowedActions) > 0 {
					actions = strings.Join(r.AllowedActions, ",")
					if len(actions) > 40 {
						actions = actions[:37] + "..."
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dm\n",
					r.Name, scope, actions, r.MaxSessionDuration/60)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Show only roles whose name or scope contains this substring")
	addFormatFlag(cmd, &format)
	return cmd
}

func newPermissionTestRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-role <role-arn>",
		Short: "Attempt to assume a role and report the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roleARN := args[0]

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
			mgr, err := engine.RoleManager(ctx, creds)
			if err != nil {
				return err
			}

			result, err := mgr.ListAvailableRoles(ctx)
			if err != nil {
				return err
			}

			var target *core.Role
			for i := range result.Roles {
				if result.Roles[i].RoleID == roleARN || result.Roles[i].Name == roleARN {
					target = &result.Roles[i]
					break
				}
			}
			if target == nil {
				return fmt.Errorf("role %s is not in the assumable catalog", roleARN)
			}

			op := core.OperationContext{
				Service:       "sts",
				Action:        "sts:AssumeRole",
				Resource:      target.RoleID,
				Justification: "role assumption test",
			}
			session, err := mgr.AssumeRoleForOperation(ctx, op, *target)
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("assumption of %s failed; see audit log for detail", target.Name)
			}

			fmt.Printf("Assumed %s as %s.\n", target.Name, session.SessionName)
			fmt.Printf("  Expires: %s (%dm remaining)\n",
				session.Expiration.Format(time.RFC3339),
				int(time.Until(session.Expiration).Minutes()))
			return nil
		},
	}
}

func newPermissionElevateCmd() *cobra.Command {
	var (
		service       string
		action        string
		resource      string
		justification string
		format        string
	)

	cmd := &cobra.Command{
		Use:   "elevate",
		Short: "Request permissions for an operation, escalating if needed",
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
			mgr, err := engine.RoleManager(ctx, creds)
			if err != nil {
				return err
			}

			actor := engine.Actor()
			op := core.OperationContext{
				Service:       service,
				Action:        action,
				Resource:      resource,
				Justification: justification,
				Actor:         actor.Type,
				ActorIdentity: actor.Identity,
			}

			result, err := engine.Elevator(mgr).ElevatePermissions(ctx, op)
			if err != nil {
				return err
			}

			// Returning the error (rather than exiting here) lets the
			// deferred engine.Close run before the process exits 1.
			return renderElevationResult(os.Stdout, result, format)
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "AWS service, e.g. s3")
	cmd.Flags().StringVar(&action, "action", "", "Fully qualified action, e.g. s3:PutObject")
	cmd.Flags().StringVar(&resource, "resource", "", "Target resource ARN or name")
	cmd.Flags().StringVar(&justification, "justification", "", "Why the operation is needed")
	addFormatFlag(cmd, &format)
	cmd.MarkFlagRequired("service")
	cmd.MarkFlagRequired("action")
	cmd.MarkFlagRequired("resource")
	return cmd
}

// renderElevationResult prints an elevation outcome and reports an
// operation that is not yet permitted as an error.
func renderElevationResult(w io.Writer, result elevation.Result, format string) error {
	asJSON, err := wantJSON(format)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "Risk tier: %s\n", result.RiskTier)
		fmt.Fprintf(w, "Method:    %s\n", result.Method)
		fmt.Fprintln(w, result.Message)
		if result.RequestID != "" {
			fmt.Fprintf(w, "Request:   %s\n", result.RequestID)
		}
		for _, alt := range result.Alternatives {
			fmt.Fprintf(w, "  hint: %s\n", alt)
		}
	}

	if !result.Success {
		return fmt.Errorf("operation not permitted: %s", result.Message)
	}
	return nil
}

func newPermissionRequestsCmd() *cobra.Command {
	var (
		status string
		format string
	)

	cmd := &cobra.Command{
		Use:   "requests",
		Short: "List permission requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			requests, err := engine.Requests.List(core.RequestStatus(status))
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(requests)
			}

			if len(requests) == 0 {
				fmt.Println("No permission requests.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST\tACTION\tRESOURCE\tRISK\tSTATUS\tAPPROVER\tCREATED")
			for _, r := range requests {
				approver := r.Approver
				if approver == "" {
					approver = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.RequestID, r.Action, r.Resource, r.RiskTier,
					r.Status, approver, r.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, approved, denied, expired)")
	addFormatFlag(cmd, &format)
	return cmd
}

func newPermissionStatsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize permission requests by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			stats, err := engine.Requests.Statistics()
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(stats)
			}

			fmt.Printf("Total:    %d\n", stats.Total)
			fmt.Printf("Pending:  %d\n", stats.Pending)
			fmt.Printf("Approved: %d\n", stats.Approved)
			fmt.Printf("Denied:   %d\n", stats.Denied)
			fmt.Printf("Expired:  %d\n", stats.Expired)
			return nil
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}

func newPermissionSessionsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List active assumed-role sessions",
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
			mgr, err := engine.RoleManager(ctx, creds)
			if err != nil {
				return err
			}

			sessions, err := mgr.GetActiveSessions()
			if err != nil {
				return err
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(sessions)
			}

			if len(sessions) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tSESSION\tKEY_ID\tEXPIRES")
			for _, s := range sessions {
				keyID := s.AccessKeyID
				if len(keyID) > 8 {
					keyID = keyID[:4] + "..." + keyID[len(keyID)-4:]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%dm\n",
					s.RoleID, s.SessionName, keyID,
					int(time.Until(s.Expiration).Minutes()))
			}
			return w.Flush()
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}

func newPermissionCapabilitiesCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "capabilities [level]",
		Short: "Show the cumulative action set granted at each capability level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			cfg := engine.Config
			levels := cfg.CapabilityOrder
			if len(args) == 1 {
				actions := cfg.ActionsForLevel(args[0])
				if actions == nil {
					return fmt.Errorf("unknown capability level %q (known: %s)",
						args[0], strings.Join(levels, ", "))
				}
				levels = []string{args[0]}
			}

			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				out := make(map[string][]string, len(levels))
				for _, l := range levels {
					out[l] = cfg.ActionsForLevel(l)
				}
				return printJSON(out)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LEVEL\tACTIONS")
			for _, l := range levels {
				fmt.Fprintf(w, "%s\t%s\n", l, strings.Join(cfg.ActionsForLevel(l), ", "))
			}
			return w.Flush()
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}
