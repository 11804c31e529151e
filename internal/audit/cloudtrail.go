package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// TrailReader is the cloud-trail collaborator consumed by verification.
type TrailReader interface {
	ListRecentEvents(ctx context.Context, start, end time.Time) ([]core.ExternalEvent, error)
}

// TrailVerification summarizes a cross-check between the local audit log
// and the external cloud trail. Mismatches are reported as error
// strings, never raised.
type TrailVerification struct {
	IsConfigured  bool       `json:"is_configured"`
	RecentEvents  int        `json:"recent_events"`
	LastEventTime *time.Time `json:"last_event_time,omitempty"`
	Errors        []string   `json:"errors,omitempty"`
}

// VerifyCloudTrailIntegration checks that the external trail is
// recording events consistent with the local log over the given recent
// window. A reader failure means "not configured", not a crash.
func (l *Logger) VerifyCloudTrailIntegration(ctx context.Context, reader TrailReader, window time.Duration) TrailVerification {
	end := time.Now().UTC()
	start := end.Add(-window)

	var v TrailVerification

	external, err := reader.ListRecentEvents(ctx, start, end)
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("cloud trail unreachable: %v", err))
		return v
	}

	v.IsConfigured = true
	v.RecentEvents = len(external)

	externalAssumes := 0
	for _, e := range external {
		if v.LastEventTime == nil || e.EventTime.After(*v.LastEventTime) {
			t := e.EventTime
			v.LastEventTime = &t
		}
		if e.EventName == "AssumeRole" {
			externalAssumes++
		}
	}

	local, err := l.Query(Filter{
		EventTypes: []core.AuditEventType{core.AuditRoleAssumed},
		Start:      &start,
		End:        &end,
	})
	if err != nil {
		v.Errors = append(v.Errors, fmt.Sprintf("local audit query failed: %v", err))
		return v
	}

	// The trail may record more AssumeRole events than we caused (other
	// principals share the account), but never fewer than our own.
	if externalAssumes < len(local) {
		v.Errors = append(v.Errors, fmt.Sprintf(
			"local log records %d role assumptions in window but cloud trail reports %d",
			len(local), externalAssumes,
		))
	}

	return v
}
