package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	awsadapter "github.com/no-wing/no-wing/internal/aws"
	"github.com/no-wing/no-wing/internal/config"
	"github.com/no-wing/no-wing/internal/core"
)

// RegisterCredentialCommands adds profile switching and credential
// verification commands.
func RegisterCredentialCommands(root *cobra.Command) {
	credCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Switch between developer and agent credential profiles",
	}

	credCmd.AddCommand(newCredentialSwitchCmd())
	credCmd.AddCommand(newCredentialTestCmd())
	credCmd.AddCommand(newCredentialWhoamiCmd())

	root.AddCommand(credCmd)
}

func newCredentialSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <user|agent>",
		Short: "Select which profile backs AWS calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := args[0]
			if profile != "user" && profile != "agent" {
				return fmt.Errorf("unknown profile %q (want user or agent)", profile)
			}

			engine, err := loadEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			previous := engine.Config.ActiveProfile
			if previous == profile {
				fmt.Printf("Profile already %s.\n", profile)
				return nil
			}

			engine.Config.ActiveProfile = profile
			if err := config.Save(engine.Config); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}

			detail, _ := json.Marshal(map[string]string{"from": previous, "to": profile})
			if err := engine.Audit.Append(core.AuditEvent{
				EventType: core.AuditCredentialSwitch,
				Actor:     engine.Actor(),
				Operation: core.OperationRef{Service: "no-wing", Action: "credentials:Switch"},
				Result:    core.Result{Success: true},
				Detail:    string(detail),
			}); err != nil {
				return err
			}

			fmt.Printf("Switched profile: %s -> %s.\n", previous, profile)
			return nil
		},
	}
}

func newCredentialTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify the active profile's credentials against STS",
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

			client := awsadapter.NewIdentityClient(engine.Factory, creds)
			identity, err := client.GetCallerIdentity(context.Background())
			if err != nil {
				return fmt.Errorf("credentials for profile %s are not valid: %w",
					engine.Config.ActiveProfile, err)
			}

			fmt.Printf("Credentials valid for profile %s.\n", engine.Config.ActiveProfile)
			fmt.Printf("  Account: %s\n", identity.AccountID)
			fmt.Printf("  ARN:     %s\n", identity.ARN)
			return nil
		},
	}
}

func newCredentialWhoamiCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the active profile and its resolved identity",
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

			client := awsadapter.NewIdentityClient(engine.Factory, creds)
			identity, err := client.GetCallerIdentity(context.Background())
			if err != nil {
				return err
			}

			actor := engine.Actor()
			asJSON, err := wantJSON(format)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(struct {
					Profile  string              `json:"profile"`
					Actor    core.Actor          `json:"actor"`
					Identity core.CallerIdentity `json:"identity"`
				}{engine.Config.ActiveProfile, actor, identity})
			}

			fmt.Printf("Profile:  %s\n", engine.Config.ActiveProfile)
			fmt.Printf("Actor:    %s/%s\n", actor.Type, actor.Identity)
			fmt.Printf("Account:  %s\n", identity.AccountID)
			fmt.Printf("ARN:      %s\n", identity.ARN)
			fmt.Printf("UserID:   %s\n", identity.UserID)
			return nil
		},
	}

	addFormatFlag(cmd, &format)
	return cmd
}
