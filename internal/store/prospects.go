package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Prospect statuses.
const (
	ProspectPending             = "pending"
	ProspectApproved            = "approved"
	ProspectQueued              = "queued"
	ProspectConnectionRequested = "connection_requested"
	ProspectConnected           = "connected"
	ProspectReplied             = "replied"
	ProspectFailed              = "failed"
	ProspectSkipped             = "skipped"
)

// ValidProspectStatus reports whether s is a known prospect status.
func ValidProspectStatus(s string) bool {
	switch s {
	case ProspectPending, ProspectApproved, ProspectQueued, ProspectConnectionRequested,
		ProspectConnected, ProspectReplied, ProspectFailed, ProspectSkipped:
		return true
	}
	return false
}

// Prospect is a contact targeted by a campaign.
type Prospect struct {
	ID           string
	CampaignID   string
	FirstName    string
	LastName     string
	Company      string
	LinkedInURL  string
	ProviderID   string
	Status       string
	ErrorMessage string
	ContactedAt  *time.Time
	UpdatedAt    time.Time
}

func (p Prospect) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// ListProspectsByStatus returns prospects of a campaign in creation order.
// A limit of zero or less returns all matches.
func (s *Store) ListProspectsByStatus(ctx context.Context, campaignID string, statuses []string, limit int) ([]Prospect, error) {
	for _, st := range statuses {
		if !ValidProspectStatus(st) {
			return nil, fmt.Errorf("invalid prospect status %q", st)
		}
	}
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, campaign_id, first_name, last_name, company_name, linkedin_url, provider_id, status, error_message, contacted_at, updated_at
FROM campaign_prospects
WHERE campaign_id=$1 AND status = ANY($2)
ORDER BY created_at, id
LIMIT $3
`, campaignID, pq.Array(statuses), lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prospect
	for rows.Next() {
		var p Prospect
		var providerID, errMsg sql.NullString
		var contacted sql.NullTime
		if err := rows.Scan(&p.ID, &p.CampaignID, &p.FirstName, &p.LastName, &p.Company, &p.LinkedInURL,
			&providerID, &p.Status, &errMsg, &contacted, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ProviderID = providerID.String
		p.ErrorMessage = errMsg.String
		if contacted.Valid {
			ts := contacted.Time
			p.ContactedAt = &ts
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProspectStatus sets status and error message (empty clears it).
func (s *Store) UpdateProspectStatus(ctx context.Context, id, status, errMsg string) error {
	if !ValidProspectStatus(status) {
		return fmt.Errorf("invalid prospect status %q", status)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE campaign_prospects SET status=$2, error_message=$3, updated_at=NOW() WHERE id=$1`,
		id, status, nullableString(errMsg))
	if err != nil {
		return err
	}
	return requireAffected(res, "prospect", id)
}

// MarkProspectContacted records a sent connection request.
func (s *Store) MarkProspectContacted(ctx context.Context, id, providerID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE campaign_prospects
SET status='connection_requested', provider_id=COALESCE(NULLIF($2, ''), provider_id), contacted_at=$3, error_message=NULL, updated_at=NOW()
WHERE id=$1
`, id, providerID, at.UTC())
	if err != nil {
		return err
	}
	return requireAffected(res, "prospect", id)
}

// SetProspectsStatus updates many prospects at once and returns rows changed.
func (s *Store) SetProspectsStatus(ctx context.Context, ids []string, status string) (int64, error) {
	if !ValidProspectStatus(status) {
		return 0, fmt.Errorf("invalid prospect status %q", status)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE campaign_prospects SET status=$2, updated_at=NOW() WHERE id = ANY($1)`, pq.Array(ids), status)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// CountProspectsByStatus returns a status histogram for one campaign.
func (s *Store) CountProspectsByStatus(ctx context.Context, campaignID string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM campaign_prospects WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CountContactedSince counts connection requests sent by a workspace since t.
func (s *Store) CountContactedSince(ctx context.Context, workspaceID string, since time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM campaign_prospects cp
JOIN campaigns c ON c.id = cp.campaign_id
WHERE c.workspace_id=$1 AND cp.contacted_at >= $2
`, workspaceID, since.UTC()).Scan(&n)
	return n, err
}
