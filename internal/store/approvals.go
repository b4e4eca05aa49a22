package store

import (
	"context"
	"database/sql"
	"time"
)

// Approval session statuses.
const (
	ApprovalActive    = "active"
	ApprovalCompleted = "completed"
	ApprovalExpired   = "expired"
)

// ApprovalSession groups prospect approval decisions for a campaign.
type ApprovalSession struct {
	ID          string
	WorkspaceID string
	CampaignID  string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ApprovalDecision struct {
	SessionID  string
	ProspectID string
	Decision   string
	DecidedBy  string
	CreatedAt  time.Time
}

// ListStaleApprovalSessions returns active sessions untouched since before.
func (s *Store) ListStaleApprovalSessions(ctx context.Context, before time.Time) ([]ApprovalSession, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, campaign_id, status, created_at, updated_at
FROM approval_sessions
WHERE status='active' AND updated_at < $1
ORDER BY updated_at
`, before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalSession
	for rows.Next() {
		var a ApprovalSession
		var campaign sql.NullString
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &campaign, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.CampaignID = campaign.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListDecisions(ctx context.Context, sessionID string) ([]ApprovalDecision, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT session_id, prospect_id, decision, decided_by, created_at
FROM approval_decisions
WHERE session_id=$1
ORDER BY created_at
`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalDecision
	for rows.Next() {
		var d ApprovalDecision
		var by sql.NullString
		if err := rows.Scan(&d.SessionID, &d.ProspectID, &d.Decision, &by, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.DecidedBy = by.String
		out = append(out, d)
	}
	return out, rows.Err()
}
