package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/no-wing/no-wing/internal/config"
	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/engine"
	"github.com/no-wing/no-wing/internal/vault"
)

// RegisterSetupCommands adds first-run provisioning.
func RegisterSetupCommands(root *cobra.Command) {
	root.AddCommand(newSetupCmd())
}

func newSetupCmd() *cobra.Command {
	var (
		force         bool
		region        string
		agentIdentity string
		accessKeyID   string
		secretKey     string
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the data directory, vault, and agent credentials",
		Long: `Setup initializes the data directory, opens the state and audit
databases, creates the credential vault, and stores the agent profile's
service credentials in it. Re-running with --force replaces an existing
vault and its stored agent credentials.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if region != "" {
				cfg.DefaultRegion = region
			}
			if agentIdentity != "" {
				cfg.AgentIdentity = agentIdentity
			}

			vaultPath := filepath.Join(cfg.DataDir, vault.VaultFileName)
			if _, err := os.Stat(vaultPath); err == nil {
				if !force {
					return fmt.Errorf("vault already exists at %s; re-run with --force to replace it", vaultPath)
				}
				if err := os.Remove(vaultPath); err != nil {
					return fmt.Errorf("removing existing vault: %w", err)
				}
			}

			e, err := engine.OpenWith(cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			pass, err := readPassphrase("New vault passphrase: ")
			if err != nil {
				return err
			}
			if os.Getenv("NO_WING_PASSPHRASE") == "" {
				confirm, err := readPassphrase("Confirm passphrase: ")
				if err != nil {
					return err
				}
				if confirm != pass {
					return fmt.Errorf("passphrases do not match")
				}
			}

			v, err := e.EnsureVault(pass)
			if err != nil {
				return err
			}

			if accessKeyID == "" {
				accessKeyID = os.Getenv("NO_WING_AGENT_ACCESS_KEY_ID")
			}
			if secretKey == "" {
				secretKey = os.Getenv("NO_WING_AGENT_SECRET_ACCESS_KEY")
			}

			provisioned := false
			if accessKeyID != "" && secretKey != "" {
				err = v.PutCredentials(engine.AgentCredentialKey, vault.Credentials{
					AccessKeyID:     accessKeyID,
					SecretAccessKey: secretKey,
				})
				if err != nil {
					return fmt.Errorf("storing agent credentials: %w", err)
				}
				provisioned = true
			}

			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}

			detail, _ := json.Marshal(map[string]any{
				"data_dir":          cfg.DataDir,
				"agent_identity":    cfg.AgentIdentity,
				"agent_keys_stored": provisioned,
				"vault_recreated":   force,
			})
			if err := e.Audit.Append(core.AuditEvent{
				EventType: core.AuditSetup,
				Actor:     e.Actor(),
				Operation: core.OperationRef{Service: "no-wing", Action: "setup:Initialize"},
				Result:    core.Result{Success: true},
				Detail:    string(detail),
			}); err != nil {
				return err
			}

			fmt.Printf("Initialized %s.\n", cfg.DataDir)
			fmt.Printf("  Vault:             %s\n", vaultPath)
			if provisioned {
				fmt.Printf("  Agent credentials: stored as %s\n", engine.AgentCredentialKey)
			} else {
				fmt.Println("  Agent credentials: not provided; pass --access-key-id/--secret-access-key to provision")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing vault")
	cmd.Flags().StringVar(&region, "region", "", "Default AWS region")
	cmd.Flags().StringVar(&agentIdentity, "agent-identity", "", "Identity string recorded for agent actions")
	cmd.Flags().StringVar(&accessKeyID, "access-key-id", "", "Agent profile access key ID")
	cmd.Flags().StringVar(&secretKey, "secret-access-key", "", "Agent profile secret access key")
	return cmd
}
