// Package risk classifies intended operations into coarse tiers. The
// classifier is a pure function over explicit tables: an exact
// action-to-tier table, a verb-class prefix table, and a production
// marker override. Substring matching on raw action names is avoided
// deliberately; every decision path is table-driven and testable.
package risk

import (
	"strings"

	"github.com/no-wing/no-wing/internal/core"
)

// Classifier maps (action, resource pattern) to a risk tier.
type Classifier struct {
	actionTiers       map[string]core.RiskTier
	highVerbs         []string
	mediumVerbs       []string
	productionMarkers []string
}

// defaultActionTiers pins known destructive or privilege-escalating
// actions to high risk regardless of verb-class matching.
var defaultActionTiers = map[string]core.RiskTier{
	"iam:DeleteRole":             core.RiskHigh,
	"iam:AttachRolePolicy":       core.RiskHigh,
	"iam:AttachUserPolicy":       core.RiskHigh,
	"iam:PutRolePolicy":          core.RiskHigh,
	"iam:CreateAccessKey":        core.RiskHigh,
	"s3:DeleteBucket":            core.RiskHigh,
	"dynamodb:DeleteTable":       core.RiskHigh,
	"lambda:DeleteFunction":      core.RiskHigh,
	"cloudformation:DeleteStack": core.RiskHigh,
	"cloudtrail:StopLogging":     core.RiskHigh,
	"cloudtrail:DeleteTrail":     core.RiskHigh,
}

// Verb classes are matched against the action part after the service
// prefix, e.g. "PutObject" for "s3:PutObject".
var (
	defaultHighVerbs   = []string{"Delete", "Attach", "Detach", "Terminate", "Deactivate", "Disable"}
	defaultMediumVerbs = []string{"Put", "Update", "Create", "Modify", "Tag", "Untag", "Start", "Stop", "Invoke"}
)

// NewClassifier creates a classifier with the built-in tables and the
// given production markers. Empty markers fall back to defaults.
func NewClassifier(productionMarkers []string) *Classifier {
	if len(productionMarkers) == 0 {
		productionMarkers = []string{"prod", "production"}
	}
	return &Classifier{
		actionTiers:       defaultActionTiers,
		highVerbs:         defaultHighVerbs,
		mediumVerbs:       defaultMediumVerbs,
		productionMarkers: productionMarkers,
	}
}

// WithActionTiers overlays explicit action-to-tier entries, e.g. loaded
// from configuration.
func (c *Classifier) WithActionTiers(overrides map[string]core.RiskTier) *Classifier {
	merged := make(map[string]core.RiskTier, len(c.actionTiers)+len(overrides))
	for k, v := range c.actionTiers {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	c.actionTiers = merged
	return c
}

// Classify returns the risk tier for an action against a resource
// pattern. Classification is action-dominant: a high-risk verb stays
// high even on non-production resources. The production override is the
// one exception — it escalates any action to high.
func (c *Classifier) Classify(action, resourcePattern string) core.RiskTier {
	if c.isProduction(resourcePattern) {
		return core.RiskHigh
	}

	if tier, ok := c.actionTiers[action]; ok {
		return tier
	}

	verb := actionVerb(action)
	for _, v := range c.highVerbs {
		if strings.HasPrefix(verb, v) {
			return core.RiskHigh
		}
	}
	for _, v := range c.mediumVerbs {
		if strings.HasPrefix(verb, v) {
			return core.RiskMedium
		}
	}
	return core.RiskLow
}

// isProduction checks the resource pattern against the marker list.
// Markers match whole path segments, not arbitrary substrings, so a
// bucket named "reproductions" does not trip "prod".
func (c *Classifier) isProduction(resourcePattern string) bool {
	segments := splitSegments(resourcePattern)
	for _, seg := range segments {
		lower := strings.ToLower(seg)
		for _, m := range c.productionMarkers {
			if lower == m || strings.HasPrefix(lower, m+"-") || strings.HasSuffix(lower, "-"+m) {
				return true
			}
		}
	}
	return false
}

// actionVerb extracts the verb part of a service-qualified action.
func actionVerb(action string) string {
	if i := strings.IndexByte(action, ':'); i >= 0 {
		return action[i+1:]
	}
	return action
}

// splitSegments breaks an ARN or resource pattern on its delimiters.
func splitSegments(pattern string) []string {
	return strings.FieldsFunc(pattern, func(r rune) bool {
		return r == ':' || r == '/' || r == '*'
	})
}
