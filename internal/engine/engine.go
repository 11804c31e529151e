// Package engine wires the governance subsystems together for the CLI:
// configuration, databases, vault, audit log, role manager, elevator,
// and approval workflow.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/no-wing/no-wing/internal/approval"
	"github.com/no-wing/no-wing/internal/audit"
	awsadapter "github.com/no-wing/no-wing/internal/aws"
	"github.com/no-wing/no-wing/internal/config"
	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/db"
	"github.com/no-wing/no-wing/internal/elevation"
	"github.com/no-wing/no-wing/internal/logging"
	"github.com/no-wing/no-wing/internal/risk"
	"github.com/no-wing/no-wing/internal/role"
	"github.com/no-wing/no-wing/internal/store"
	"github.com/no-wing/no-wing/internal/vault"
)

// AgentCredentialKey is the vault key holding the agent profile's
// long-lived service credentials.
const AgentCredentialKey = "profile:agent"

// Engine is the central coordinator for the no-wing subsystems.
type Engine struct {
	Config     config.Config
	StateDB    *sql.DB
	AuditDB    *sql.DB
	Audit      *audit.Logger
	Logger     zerolog.Logger
	Requests   store.RequestStore
	Operations store.OperationStore
	Workflow   *approval.Workflow
	Commits    *approval.CommitTracker
	Factory    *awsadapter.ClientFactory

	vault *vault.Vault
}

// Open loads configuration and opens the state and audit databases. The
// vault is unlocked separately via EnsureVault because most commands
// never need secret material.
func Open() (*Engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return OpenWith(cfg)
}

// OpenWith opens an engine over an explicit configuration.
func OpenWith(cfg config.Config) (*Engine, error) {
	if err := db.EnsureDataDir(cfg.DataDir); err != nil {
		return nil, err
	}

	stateDB, err := db.OpenStateDB(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	auditDB, err := db.OpenAuditDB(cfg.DataDir)
	if err != nil {
		stateDB.Close()
		return nil, err
	}

	auditLogger, err := audit.NewLogger(auditDB)
	if err != nil {
		stateDB.Close()
		auditDB.Close()
		return nil, fmt.Errorf("creating audit logger: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.ActiveProfile)
	requests := store.NewSQLRequestStore(stateDB)
	operations := store.NewSQLOperationStore(stateDB)

	e := &Engine{
		Config:     cfg,
		StateDB:    stateDB,
		AuditDB:    auditDB,
		Audit:      auditLogger,
		Logger:     logger,
		Requests:   requests,
		Operations: operations,
		Workflow:   approval.NewWorkflow(requests, operations, auditLogger, logger),
		Commits:    approval.NewCommitTracker(stateDB, auditLogger, cfg.MaxUnverifiedCommits),
		Factory: awsadapter.NewClientFactoryWithRate(
			logger,
			cfg.RateLimitPerService,
			time.Duration(cfg.CacheTTLSeconds)*time.Second,
		),
	}
	return e, nil
}

// Close releases databases and zeroes the vault master key if unlocked.
func (e *Engine) Close() error {
	var firstErr error
	if e.vault != nil {
		if err := e.vault.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.StateDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.AuditDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// EnsureVault unlocks (or creates) the credential vault.
func (e *Engine) EnsureVault(passphrase string) (*vault.Vault, error) {
	if e.vault != nil {
		return e.vault, nil
	}

	path := filepath.Join(e.Config.DataDir, vault.VaultFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		v, err := vault.Create(path, passphrase)
		if err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		e.vault = v
		return v, nil
	}

	v, err := vault.Open(path, passphrase)
	if err != nil {
		return nil, err
	}
	e.vault = v
	return v, nil
}

// Actor returns the audit actor for the active profile.
func (e *Engine) Actor() core.Actor {
	if e.Config.ActiveProfile == "agent" {
		return core.Actor{Type: core.ActorAgent, Identity: e.Config.AgentIdentity}
	}
	identity := os.Getenv("USER")
	if identity == "" {
		identity = "developer"
	}
	return core.Actor{Type: core.ActorHuman, Identity: identity}
}

// Credentials resolves the AWS credentials backing the active profile.
// The user profile reads the developer's ambient environment; the agent
// profile reads the vault, so the agent never holds the human's keys.
func (e *Engine) Credentials(passphrase string) (awsadapter.SessionCredentials, error) {
	if e.Config.ActiveProfile == "agent" {
		v, err := e.EnsureVault(passphrase)
		if err != nil {
			return awsadapter.SessionCredentials{}, err
		}
		creds, err := v.GetCredentials(AgentCredentialKey)
		if err != nil {
			return awsadapter.SessionCredentials{}, fmt.Errorf("agent credentials not provisioned; run 'no-wing setup --force': %w", err)
		}
		return awsadapter.SessionCredentials{
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
			SessionToken:    creds.SessionToken,
			Region:          e.Config.DefaultRegion,
		}, nil
	}

	creds := awsadapter.SessionCredentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Region:          e.Config.DefaultRegion,
	}
	if creds.AccessKeyID == "" {
		return awsadapter.SessionCredentials{}, fmt.Errorf("no AWS credentials in environment; export AWS_ACCESS_KEY_ID or run 'no-wing credentials switch agent'")
	}
	return creds, nil
}

// RoleManager builds a role manager bound to the active profile's
// credentials. The caller principal is resolved via GetCallerIdentity.
func (e *Engine) RoleManager(ctx context.Context, creds awsadapter.SessionCredentials) (*role.Manager, error) {
	identityClient := awsadapter.NewIdentityClient(e.Factory, creds)

	caller, err := identityClient.GetCallerIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving caller identity: %w", err)
	}

	catalog := role.NewCatalog(identityClient, caller.ARN)
	cache := role.NewSessionCache(role.NewSQLSessionStore(e.StateDB))

	var sink role.CredentialSink
	if e.vault != nil {
		sink = e.vault
	}

	return role.NewManager(catalog, cache, e.Audit, sink, e.Logger, e.Actor()), nil
}

// Elevator builds a permission elevator over the given role manager.
func (e *Engine) Elevator(roles *role.Manager) *elevation.Elevator {
	classifier := risk.NewClassifier(e.Config.ProductionMarkers)
	return elevation.NewElevator(
		roles,
		classifier,
		e.Requests,
		e.Operations,
		e.Audit,
		elevation.NewLearnedPatterns(e.Config.LearnedPatternCapacity),
		e.Logger,
		e.Actor(),
		time.Duration(e.Config.PendingRequestTTLHours)*time.Hour,
	)
}

// TrailClient builds a CloudTrail reader for audit cross-verification.
func (e *Engine) TrailClient(creds awsadapter.SessionCredentials) *awsadapter.TrailClient {
	return awsadapter.NewTrailClient(e.Factory, creds)
}
