package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/no-wing/no-wing/internal/core"
	"github.com/no-wing/no-wing/internal/vault"
)

// Role tag keys read during discovery. Scope and action grants are
// declared on the IAM role itself so the catalog stays data-driven.
const (
	TagScopePattern = "no-wing:scope"
	TagActions      = "no-wing:actions"
)

// IdentityClient implements role discovery and assumption against STS and
// IAM. It satisfies the provider interface consumed by the role catalog
// and manager.
type IdentityClient struct {
	factory *ClientFactory
	creds   SessionCredentials
}

// NewIdentityClient creates an identity provider bound to a credential
// set.
func NewIdentityClient(factory *ClientFactory, creds SessionCredentials) *IdentityClient {
	return &IdentityClient{factory: factory, creds: creds}
}

// GetCallerIdentity performs sts:GetCallerIdentity.
func (c *IdentityClient) GetCallerIdentity(ctx context.Context) (core.CallerIdentity, error) {
	c.factory.Wait("sts")

	out, err := c.factory.STSClient(c.creds).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return core.CallerIdentity{}, fmt.Errorf("GetCallerIdentity: %w", err)
	}
	return core.CallerIdentity{
		AccountID: aws.ToString(out.Account),
		ARN:       aws.ToString(out.Arn),
		UserID:    aws.ToString(out.UserId),
	}, nil
}

// ListAssumableRoles enumerates IAM roles whose trust policy names the
// given principal. Per-role enrichment failures (GetRole) are collected
// as warnings; a failure to list at all is returned as an error so the
// caller never mistakes "unreachable" for "no roles exist".
func (c *IdentityClient) ListAssumableRoles(ctx context.Context, principal string) ([]core.Role, []string, error) {
	c.factory.Wait("iam")

	if cached, ok := c.factory.Cache().Get("iam:roles:" + principal); ok {
		return cached.([]core.Role), nil, nil
	}

	client := c.factory.IAMClient(c.creds)
	var roles []core.Role
	var warnings []string
	var marker *string

	for {
		out, err := client.ListRoles(ctx, &iam.ListRolesInput{Marker: marker})
		if err != nil {
			return nil, warnings, fmt.Errorf("ListRoles: %w", err)
		}

		for _, r := range out.Roles {
			trustDoc := aws.ToString(r.AssumeRolePolicyDocument)
			trusted, err := trustedPrincipals(trustDoc)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("role %s: unparseable trust policy: %v", aws.ToString(r.RoleName), err))
				continue
			}
			if !principalTrusted(trusted, principal) {
				continue
			}

			role := core.Role{
				RoleID:             aws.ToString(r.Arn),
				Name:               aws.ToString(r.RoleName),
				TrustedPrincipal:   principal,
				MaxSessionDuration: aws.ToInt32(r.MaxSessionDuration),
				DiscoveredAt:       time.Now().UTC(),
			}

			// ListRoles omits tags; fetch them per role. A per-role
			// failure downgrades to a warning rather than dropping the
			// whole listing.
			c.factory.Wait("iam")
			detail, err := client.GetRole(ctx, &iam.GetRoleInput{RoleName: r.RoleName})
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("role %s: tag lookup failed: %v", role.Name, err))
			} else {
				for _, tag := range detail.Role.Tags {
					switch aws.ToString(tag.Key) {
					case TagScopePattern:
						role.ResourcePattern = aws.ToString(tag.Value)
					case TagActions:
						role.AllowedActions = splitCSV(aws.ToString(tag.Value))
					default:
						role.Tags = append(role.Tags, aws.ToString(tag.Key)+"="+aws.ToString(tag.Value))
					}
				}
				if detail.Role.MaxSessionDuration != nil {
					role.MaxSessionDuration = aws.ToInt32(detail.Role.MaxSessionDuration)
				}
			}

			roles = append(roles, role)
		}

		if out.Marker == nil {
			break
		}
		marker = out.Marker
		c.factory.Wait("iam")
	}

	if len(warnings) == 0 {
		c.factory.Cache().Put("iam:roles:"+principal, roles)
	}
	return roles, warnings, nil
}

// AssumeRole performs sts:AssumeRole and returns the temporary
// credentials with their expiration.
func (c *IdentityClient) AssumeRole(ctx context.Context, roleID, sessionName string, durationSeconds int32) (vault.Credentials, time.Time, error) {
	c.factory.Wait("sts")

	out, err := c.factory.STSClient(c.creds).AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleID),
		RoleSessionName: aws.String(sessionName),
		DurationSeconds: aws.Int32(durationSeconds),
	})
	if err != nil {
		return vault.Credentials{}, time.Time{}, fmt.Errorf("AssumeRole %s: %w", roleID, err)
	}

	creds := vault.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
	}
	return creds, aws.ToTime(out.Credentials.Expiration), nil
}

// trustPolicy models the subset of an IAM trust policy document needed
// to extract trusted principals.
type trustPolicy struct {
	Statement []struct {
		Effect    string `json:"Effect"`
		Principal struct {
			AWS     jsonStringList `json:"AWS"`
			Service jsonStringList `json:"Service"`
		} `json:"Principal"`
		Action jsonStringList `json:"Action"`
	} `json:"Statement"`
}

// jsonStringList accepts both "x" and ["x","y"] encodings.
type jsonStringList []string

func (l *jsonStringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// trustedPrincipals extracts AWS principals from a URL-encoded trust
// policy document that allow sts:AssumeRole.
func trustedPrincipals(doc string) ([]string, error) {
	decoded, err := url.QueryUnescape(doc)
	if err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	var policy trustPolicy
	if err := json.Unmarshal([]byte(decoded), &policy); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	var principals []string
	for _, stmt := range policy.Statement {
		if stmt.Effect != "Allow" {
			continue
		}
		allowsAssume := false
		for _, a := range stmt.Action {
			if a == "sts:AssumeRole" || a == "sts:*" {
				allowsAssume = true
				break
			}
		}
		if !allowsAssume {
			continue
		}
		principals = append(principals, stmt.Principal.AWS...)
	}
	return principals, nil
}

// principalTrusted reports whether the trust list covers the principal,
// either exactly, by account-root wildcard, or by "*".
func principalTrusted(trusted []string, principal string) bool {
	for _, t := range trusted {
		if t == principal || t == "*" {
			return true
		}
		if strings.HasSuffix(t, ":root") && sameAccount(t, principal) {
			return true
		}
	}
	return false
}

// sameAccount compares the account ID fields of two ARNs.
func sameAccount(a, b string) bool {
	pa := strings.SplitN(a, ":", 6)
	pb := strings.SplitN(b, ":", 6)
	return len(pa) >= 5 && len(pb) >= 5 && pa[4] == pb[4]
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
