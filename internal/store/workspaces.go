package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Workspace member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ValidRole reports whether r is a known membership role.
func ValidRole(r string) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Workspace is a tenant grouping.
type Workspace struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// WorkspaceMember links a user to a workspace.
type WorkspaceMember struct {
	WorkspaceID string
	UserID      string
	Email       string
	Role        string
	Status      string
	CreatedAt   time.Time
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	var ws Workspace
	var owner sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at FROM workspaces WHERE id=$1`, id).
		Scan(&ws.ID, &ws.Name, &owner, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
		}
		return Workspace{}, err
	}
	ws.OwnerID = owner.String
	return ws, nil
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, owner_id, created_at FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Workspace
	for rows.Next() {
		var ws Workspace
		var owner sql.NullString
		if err := rows.Scan(&ws.ID, &ws.Name, &owner, &ws.CreatedAt); err != nil {
			return nil, err
		}
		ws.OwnerID = owner.String
		out = append(out, ws)
	}
	return out, rows.Err()
}

// CreateWorkspace inserts a workspace owned by ownerID.
func (s *Store) CreateWorkspace(ctx context.Context, name, ownerID string) (Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Workspace{}, fmt.Errorf("workspace name required")
	}
	ws := Workspace{ID: uuid.NewString(), Name: name, OwnerID: ownerID}
	err := s.DB.QueryRowContext(ctx, `INSERT INTO workspaces (id, name, owner_id) VALUES ($1,$2,$3) RETURNING created_at`,
		ws.ID, ws.Name, nullableString(ownerID)).Scan(&ws.CreatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// UpsertWorkspaceMember adds a membership or updates its status and returns
// the role the member ends up with. An empty Role inserts a member and
// leaves an existing membership's role untouched, so re-adding an owner
// never demotes them.
func (s *Store) UpsertWorkspaceMember(ctx context.Context, m WorkspaceMember) (string, error) {
	if m.WorkspaceID == "" || m.UserID == "" {
		return "", fmt.Errorf("workspace_id and user_id required")
	}
	if m.Role != "" && !ValidRole(m.Role) {
		return "", fmt.Errorf("invalid role %q", m.Role)
	}
	if m.Status == "" {
		m.Status = "active"
	}
	var role string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO workspace_members (workspace_id, user_id, role, status)
VALUES ($1,$2,COALESCE($3::text,'member'),$4)
ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = COALESCE($3::text, workspace_members.role), status = EXCLUDED.status
RETURNING role
`, m.WorkspaceID, m.UserID, nullableString(m.Role), m.Status).Scan(&role)
	return role, err
}

func (s *Store) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, userID)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

// RemoveAllMemberships deletes every membership of a user.
func (s *Store) RemoveAllMemberships(ctx context.Context, userID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM workspace_members WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return affected(res)
}

func (s *Store) CountMemberships(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspace_members WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

func (s *Store) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT m.workspace_id, m.user_id, COALESCE(p.email, ''), m.role, m.status, m.created_at
FROM workspace_members m
LEFT JOIN profiles p ON p.id = m.user_id
WHERE m.workspace_id=$1
ORDER BY m.created_at
`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkspaceMember
	for rows.Next() {
		var m WorkspaceMember
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Email, &m.Role, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
