package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Profile is the application-side row for an auth user.
type Profile struct {
	ID                 string
	Email              string
	FullName           string
	CurrentWorkspaceID string
}

func (s *Store) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	var p Profile
	var name, current sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id, email, full_name, current_workspace_id FROM profiles WHERE lower(email)=lower($1)`,
		strings.TrimSpace(email)).Scan(&p.ID, &p.Email, &name, &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, fmt.Errorf("profile %s: %w", email, ErrNotFound)
		}
		return Profile{}, err
	}
	p.FullName = name.String
	p.CurrentWorkspaceID = current.String
	return p, nil
}

// UpsertProfile inserts or refreshes the profile keyed by auth user id.
// An empty FullName keeps the stored one.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) error {
	if p.ID == "" || strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("profile id and email required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO profiles (id, email, full_name)
VALUES ($1,$2,$3)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, full_name = COALESCE(EXCLUDED.full_name, profiles.full_name), updated_at = NOW()
`, p.ID, strings.ToLower(strings.TrimSpace(p.Email)), nullableString(strings.TrimSpace(p.FullName)))
	return err
}

// SetCurrentWorkspace points the user's session at a workspace; an empty
// workspaceID clears it.
func (s *Store) SetCurrentWorkspace(ctx context.Context, userID, workspaceID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE profiles SET current_workspace_id=$2, updated_at=NOW() WHERE id=$1`, userID, nullableString(workspaceID))
	if err != nil {
		return err
	}
	return requireAffected(res, "profile", userID)
}

func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM profiles WHERE id=$1`, userID)
	return err
}
