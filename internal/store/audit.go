package store

import (
	"context"
	"database/sql"
	"time"
)

// AuditResult is the outcome of one consistency query: the total number of
// offending rows plus a few human-readable samples.
type AuditResult struct {
	Count   int
	Samples []string
}

func (s *Store) auditQuery(ctx context.Context, query string, args ...any) (AuditResult, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return AuditResult{}, err
	}
	defer rows.Close()
	var res AuditResult
	for rows.Next() {
		var sample string
		var total int
		if err := rows.Scan(&sample, &total); err != nil {
			return AuditResult{}, err
		}
		res.Count = total
		res.Samples = append(res.Samples, sample)
	}
	return res, rows.Err()
}

// FindOrphanMembers finds memberships whose workspace or profile is gone.
func (s *Store) FindOrphanMembers(ctx context.Context, limit int) (AuditResult, error) {
	return s.auditQuery(ctx, `
SELECT m.workspace_id::text || '/' || m.user_id::text, COUNT(*) OVER()
FROM workspace_members m
LEFT JOIN workspaces w ON w.id = m.workspace_id
LEFT JOIN profiles p ON p.id = m.user_id
WHERE w.id IS NULL OR p.id IS NULL
ORDER BY m.created_at
LIMIT $1
`, limit)
}

func (s *Store) FindCampaignsWithoutWorkspace(ctx context.Context, limit int) (AuditResult, error) {
	return s.auditQuery(ctx, `
SELECT c.id::text || ' ' || c.name, COUNT(*) OVER()
FROM campaigns c
LEFT JOIN workspaces w ON w.id = c.workspace_id
WHERE w.id IS NULL
ORDER BY c.created_at
LIMIT $1
`, limit)
}

// FindProspectStatusMismatch finds prospects whose status disagrees with
// contacted_at: contacted but still pending/approved/queued, or marked
// requested without a contact time.
func (s *Store) FindProspectStatusMismatch(ctx context.Context, limit int) (AuditResult, error) {
	return s.auditQuery(ctx, `
SELECT id::text || ' ' || status, COUNT(*) OVER()
FROM campaign_prospects
WHERE (contacted_at IS NOT NULL AND status IN ('pending','approved','queued'))
   OR (status = 'connection_requested' AND contacted_at IS NULL)
ORDER BY updated_at
LIMIT $1
`, limit)
}

// FindDuplicateProspects finds every prospect that repeats an earlier
// profile URL within the same campaign.
func (s *Store) FindDuplicateProspects(ctx context.Context, limit int) (AuditResult, error) {
	return s.auditQuery(ctx, `
WITH ranked AS (
  SELECT id, linkedin_url, created_at,
         ROW_NUMBER() OVER (PARTITION BY campaign_id, lower(linkedin_url) ORDER BY created_at, id) AS rn
  FROM campaign_prospects
  WHERE linkedin_url <> ''
)
SELECT id::text || ' ' || linkedin_url, COUNT(*) OVER()
FROM ranked
WHERE rn > 1
ORDER BY created_at
LIMIT $1
`, limit)
}

func (s *Store) FindUsersWithoutWorkspace(ctx context.Context, limit int) (AuditResult, error) {
	return s.auditQuery(ctx, `
SELECT p.email, COUNT(*) OVER()
FROM profiles p
WHERE NOT EXISTS (SELECT 1 FROM workspace_members m WHERE m.user_id = p.id)
ORDER BY p.created_at
LIMIT $1
`, limit)
}

func (s *Store) FindStaleApprovalSessions(ctx context.Context, before time.Time, limit int) (AuditResult, error) {
	return s.auditQuery(ctx, `
SELECT id::text || ' ' || to_char(updated_at, 'YYYY-MM-DD'), COUNT(*) OVER()
FROM approval_sessions
WHERE status='active' AND updated_at < $1
ORDER BY updated_at
LIMIT $2
`, before.UTC(), limit)
}

// DeleteOrphanMembers removes memberships found by FindOrphanMembers.
func (s *Store) DeleteOrphanMembers(ctx context.Context, apply bool) (int64, error) {
	return s.inTx(ctx, apply, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
DELETE FROM workspace_members m
WHERE NOT EXISTS (SELECT 1 FROM workspaces w WHERE w.id = m.workspace_id)
   OR NOT EXISTS (SELECT 1 FROM profiles p WHERE p.id = m.user_id)
`)
		if err != nil {
			return 0, err
		}
		return affected(res)
	})
}

// FixProspectStatusMismatch promotes contacted prospects to
// connection_requested and backfills contacted_at from updated_at on
// requested rows that lack it.
func (s *Store) FixProspectStatusMismatch(ctx context.Context, apply bool) (int64, error) {
	return s.inTx(ctx, apply, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
UPDATE campaign_prospects SET status='connection_requested', updated_at=NOW()
WHERE contacted_at IS NOT NULL AND status IN ('pending','approved','queued')
`)
		if err != nil {
			return 0, err
		}
		promoted, err := affected(res)
		if err != nil {
			return 0, err
		}
		// backfill rather than re-queue: the invitation most likely went out
		res, err = tx.ExecContext(ctx, `
UPDATE campaign_prospects SET contacted_at=updated_at
WHERE status='connection_requested' AND contacted_at IS NULL
`)
		if err != nil {
			return 0, err
		}
		backfilled, err := affected(res)
		if err != nil {
			return 0, err
		}
		return promoted + backfilled, nil
	})
}

// DeleteDuplicateProspects keeps the oldest row per campaign and profile URL.
func (s *Store) DeleteDuplicateProspects(ctx context.Context, apply bool) (int64, error) {
	return s.inTx(ctx, apply, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `
DELETE FROM campaign_prospects
WHERE id IN (
  SELECT id FROM (
    SELECT id, ROW_NUMBER() OVER (PARTITION BY campaign_id, lower(linkedin_url) ORDER BY created_at, id) AS rn
    FROM campaign_prospects
    WHERE linkedin_url <> ''
  ) d
  WHERE d.rn > 1
)
`)
		if err != nil {
			return 0, err
		}
		return affected(res)
	})
}

// ExpireApprovalSessions closes active sessions untouched since before.
func (s *Store) ExpireApprovalSessions(ctx context.Context, before time.Time, apply bool) (int64, error) {
	return s.inTx(ctx, apply, func(tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `UPDATE approval_sessions SET status='expired', updated_at=NOW() WHERE status='active' AND updated_at < $1`, before.UTC())
		if err != nil {
			return 0, err
		}
		return affected(res)
	})
}
