package audit

import (
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// GenerateComplianceReport derives a point-in-time aggregate over audit
// events within [start, end). The report is computed purely from Query
// output for the same window, so two calls with no intervening appends
// return identical counts.
func (l *Logger) GenerateComplianceReport(start, end time.Time) (core.ComplianceReport, error) {
	events, err := l.Query(Filter{Start: &start, End: &end})
	if err != nil {
		return core.ComplianceReport{}, err
	}

	report := core.ComplianceReport{
		Start:       start,
		End:         end,
		GeneratedAt: time.Now().UTC(),
		TotalEvents: len(events),
	}

	requestTypes := make(map[core.AuditEventType]bool, len(core.PermissionRequestEventTypes))
	for _, et := range core.PermissionRequestEventTypes {
		requestTypes[et] = true
	}

	// Query returns newest-first; approvals must be found at an earlier
	// timestamp than the action they cover, so walk oldest-first.
	approvedBefore := make(map[string]time.Time)

	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]

		switch e.Actor.Type {
		case core.ActorHuman:
			report.HumanEvents++
		case core.ActorAgent:
			report.AgentEvents++
		}
		if !e.Result.Success {
			report.FailedEvents++
		}
		if requestTypes[e.EventType] {
			report.PermissionRequestEvents++
		}

		if e.EventType == core.AuditRequestApproved && e.RequestID != "" {
			if _, ok := approvedBefore[e.RequestID]; !ok {
				approvedBefore[e.RequestID] = e.Timestamp
			}
		}

		if e.EventType == core.AuditOperationExecuted && e.RiskTier == core.RiskHigh {
			approvedAt, ok := approvedBefore[e.RequestID]
			if e.RequestID == "" || !ok || e.Timestamp.Before(approvedAt) {
				report.Violations = append(report.Violations, core.Violation{
					Timestamp: e.Timestamp,
					Action:    e.Operation.Action,
					Actor:     e.Actor,
					RequestID: e.RequestID,
					Reason:    "high-risk action without prior approval in window",
				})
			}
		}
	}

	return report, nil
}
