// Package role implements role discovery, the expiry-aware session cache,
// and the role manager that picks and assumes the best role for an
// operation.
package role

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/vault"
)

// IdentityProvider is the cloud collaborator consumed by the catalog and
// manager. The AWS adapter satisfies it; tests substitute fakes.
type IdentityProvider interface {
	GetCallerIdentity(ctx context.Context) (core.CallerIdentity, error)
	ListAssumableRoles(ctx context.Context, principal string) ([]core.Role, []string, error)
	AssumeRole(ctx context.Context, roleID, sessionName string, durationSeconds int32) (vault.Credentials, time.Time, error)
}

// DiscoveryError reports that the identity provider could not be
// enumerated. It never means "no roles exist".
type DiscoveryError struct {
	Op  string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("role discovery failed [%s]: %v", e.Op, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// IsDiscoveryError checks if an error is a discovery failure.
func IsDiscoveryError(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}

// DiscoveryResult is a role listing with any partial-failure warnings
// attached. Warnings are surfaced, never swallowed.
type DiscoveryResult struct {
	Roles    []core.Role
	Warnings []string
}

// Catalog discovers assumable roles and their trust policies for a fixed
// caller principal.
type Catalog struct {
	provider  IdentityProvider
	principal string
}

// NewCatalog creates a role catalog for the given caller principal ARN.
func NewCatalog(provider IdentityProvider, principal string) *Catalog {
	return &Catalog{provider: provider, principal: principal}
}

// Discover enumerates roles the principal is trusted to assume. Total
// failure returns a *DiscoveryError; partial failures ride along as
// warnings on the result.
func (c *Catalog) Discover(ctx context.Context) (DiscoveryResult, error) {
	roles, warnings, err := c.provider.ListAssumableRoles(ctx, c.principal)
	if err != nil {
		return DiscoveryResult{Warnings: warnings}, &DiscoveryError{Op: "list-roles", Err: err}
	}
	return DiscoveryResult{Roles: roles, Warnings: warnings}, nil
}

// Principal returns the caller principal this catalog discovers for.
func (c *Catalog) Principal() string { return c.principal }
