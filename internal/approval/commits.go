package approval

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/no-wing/no-wing/internal/core"
)

// CommitTracker records agent commits per feature branch and gates pull
// requests on full human verification.
type CommitTracker struct {
	db    *sql.DB
	audit AuditAppender

	// maxUnverified caps unverified commits per branch so runaway
	// unverified agent work is stopped early.
	maxUnverified int
}

// NewCommitTracker creates a commit tracker. maxUnverified <= 0 selects
// the default cap of 10.
func NewCommitTracker(db *sql.DB, audit AuditAppender, maxUnverified int) *CommitTracker {
	if maxUnverified <= 0 {
		maxUnverified = 10
	}
	return &CommitTracker{db: db, audit: audit, maxUnverified: maxUnverified}
}

// RecordCommit registers an agent commit on a branch. It fails once the
// branch holds the maximum number of unverified commits.
func (t *CommitTracker) RecordCommit(commit core.CommitRecord) error {
	var unverified int
	err := t.db.QueryRow(
		"SELECT COUNT(*) FROM commits WHERE branch = ? AND verified = 0",
		commit.Branch,
	).Scan(&unverified)
	if err != nil {
		return fmt.Errorf("counting unverified commits: %w", err)
	}
	if unverified >= t.maxUnverified {
		return fmt.Errorf("branch %s has %d unverified commits (cap %d); verify before continuing", commit.Branch, unverified, t.maxUnverified)
	}

	now := time.Now().UTC()
	if commit.RecordedAt.IsZero() {
		commit.RecordedAt = now
	}

	_, err = t.db.Exec(
		`INSERT INTO commits (sha, branch, message, author, recorded_at, verified)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		commit.SHA, commit.Branch, commit.Message, commit.Author,
		commit.RecordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording commit: %w", err)
	}

	return t.audit.Append(core.AuditEvent{
		Timestamp: now,
		EventType: core.AuditCommitRecorded,
		Actor:     core.Actor{Type: core.ActorAgent, Identity: commit.Author},
		Result:    core.Result{Success: true},
		Detail:    fmt.Sprintf(`{"sha":%q,"branch":%q}`, commit.SHA, commit.Branch),
	})
}

// VerifyCommit marks a commit as human-verified. Verifying an unknown or
// already-verified commit returns false without a new audit event.
func (t *CommitTracker) VerifyCommit(sha, verifier string) (bool, error) {
	now := time.Now().UTC()
	result, err := t.db.Exec(
		"UPDATE commits SET verified = 1, verified_by = ?, verified_at = ? WHERE sha = ? AND verified = 0",
		verifier, now.Format(time.RFC3339), sha,
	)
	if err != nil {
		return false, fmt.Errorf("verifying commit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking verification: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := t.audit.Append(core.AuditEvent{
		Timestamp: now,
		EventType: core.AuditCommitVerified,
		Actor:     core.Actor{Type: core.ActorHuman, Identity: verifier},
		Result:    core.Result{Success: true},
		Detail:    fmt.Sprintf(`{"sha":%q}`, sha),
	}); err != nil {
		return true, err
	}
	return true, nil
}

// BranchCommits lists the commits recorded for a branch, oldest first.
func (t *CommitTracker) BranchCommits(branch string) ([]core.CommitRecord, error) {
	rows, err := t.db.Query(
		`SELECT sha, branch, message, author, recorded_at, verified, verified_by, verified_at
		 FROM commits WHERE branch = ? ORDER BY recorded_at ASC`,
		branch,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commits: %w", err)
	}
	defer rows.Close()

	var commits []core.CommitRecord
	for rows.Next() {
		var c core.CommitRecord
		var recordedAt string
		var verified int
		var verifiedAt sql.NullString

		if err := rows.Scan(&c.SHA, &c.Branch, &c.Message, &c.Author, &recordedAt, &verified, &c.VerifiedBy, &verifiedAt); err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		c.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		c.Verified = verified != 0
		if verifiedAt.Valid {
			ts, _ := time.Parse(time.RFC3339, verifiedAt.String)
			c.VerifiedAt = &ts
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// ReadyForPullRequest reports whether every commit on the branch is
// verified. This is a hard precondition for opening a pull request, not
// a warning.
func (t *CommitTracker) ReadyForPullRequest(branch string) (bool, error) {
	var total, unverified int
	err := t.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN verified = 0 THEN 1 ELSE 0 END), 0) FROM commits WHERE branch = ?",
		branch,
	).Scan(&total, &unverified)
	if err != nil {
		return false, fmt.Errorf("checking branch readiness: %w", err)
	}
	return total > 0 && unverified == 0, nil
}
