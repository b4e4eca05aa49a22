package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

func validCampaignStatus(s string) bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

// Campaign is a named outreach effort.
type Campaign struct {
	ID                string
	WorkspaceID       string
	Name              string
	Status            string
	Channel           string
	ConnectionMessage string
	FollowUps         []string
	CreatedAt         time.Time
}

const campaignColumns = `id, workspace_id, name, status, channel, connection_message, follow_up_messages, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var c Campaign
	var ws sql.NullString
	var followUps []byte
	if err := row.Scan(&c.ID, &ws, &c.Name, &c.Status, &c.Channel, &c.ConnectionMessage, &followUps, &c.CreatedAt); err != nil {
		return Campaign{}, err
	}
	c.WorkspaceID = ws.String
	msgs, err := decodeFollowUps(followUps)
	if err != nil {
		return Campaign{}, fmt.Errorf("campaign %s follow ups: %w", c.ID, err)
	}
	c.FollowUps = msgs
	return c, nil
}

// decodeFollowUps accepts either a list of strings or a list of
// {"message": "..."} objects; both shapes exist in the application data.
func decodeFollowUps(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain, nil
	}
	var objs []struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Message)
	}
	return out, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	c, err := scanCampaign(s.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
		}
		return Campaign{}, err
	}
	return c, nil
}

// ListCampaigns returns campaigns of a workspace, or all when workspaceID is empty.
func (s *Store) ListCampaigns(ctx context.Context, workspaceID string) ([]Campaign, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if workspaceID == "" {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns ORDER BY created_at DESC`)
	} else {
		rows, err = s.DB.QueryContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE workspace_id=$1 ORDER BY created_at DESC`, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCampaignStatus(ctx context.Context, id, status string) error {
	if !validCampaignStatus(status) {
		return fmt.Errorf("invalid campaign status %q", status)
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE campaigns SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireAffected(res, "campaign", id)
}
