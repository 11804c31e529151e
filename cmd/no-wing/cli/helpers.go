package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	awsadapter "github.com/no-wing/no-wing/internal/aws"
	"github.com/no-wing/no-wing/internal/engine"
)

// loadEngine opens the governance engine over the user's configuration.
// Commands that need vault material unlock it afterwards via
// activeCredentials.
func loadEngine() (*engine.Engine, error) {
	e, err := engine.Open()
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	return e, nil
}

// readPassphrase reads the vault passphrase, preferring the
// NO_WING_PASSPHRASE environment variable over an interactive prompt so
// the agent can run unattended.
func readPassphrase(prompt string) (string, error) {
	if pass := os.Getenv("NO_WING_PASSPHRASE"); pass != "" {
		return pass, nil
	}

	fmt.Fprint(os.Stderr, prompt)
	passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	fmt.Fprintln(os.Stderr)
	return string(passBytes), nil
}

// activeCredentials resolves AWS credentials for the active profile,
// unlocking the vault first when the agent profile is selected.
func activeCredentials(e *engine.Engine) (awsadapter.SessionCredentials, error) {
	pass := ""
	if e.Config.ActiveProfile == "agent" {
		var err error
		pass, err = readPassphrase("Vault passphrase: ")
		if err != nil {
			return awsadapter.SessionCredentials{}, err
		}
	}
	return e.Credentials(pass)
}

// addFormatFlag registers the shared --format output selector.
func addFormatFlag(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVar(format, "format", "text", "Output format: text or json")
}

// wantJSON parses the --format flag value.
func wantJSON(format string) (bool, error) {
	switch format {
	case "", "text":
		return false, nil
	case "json":
		return true, nil
	}
	return false, fmt.Errorf("unknown format %q (want text or json)", format)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTimeFlag accepts RFC3339 or a plain date (2006-01-02).
func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339 or YYYY-MM-DD)", s)
	}
	return t, nil
}
