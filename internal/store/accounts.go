package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WorkspaceAccount is a messaging-integration account connected to a workspace.
type WorkspaceAccount struct {
	ID          string
	WorkspaceID string
	UserID      string
	Provider    string
	AccountID   string
	AccountName string
	Status      string
}

func (s *Store) ListWorkspaceAccounts(ctx context.Context, workspaceID string) ([]WorkspaceAccount, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, user_id, provider, account_id, account_name, status
FROM workspace_accounts
WHERE workspace_id=$1
ORDER BY created_at
`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkspaceAccount
	for rows.Next() {
		var a WorkspaceAccount
		var user sql.NullString
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &user, &a.Provider, &a.AccountID, &a.AccountName, &a.Status); err != nil {
			return nil, err
		}
		a.UserID = user.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertWorkspaceAccount records an integration account keyed by
// (workspace_id, account_id).
func (s *Store) UpsertWorkspaceAccount(ctx context.Context, a WorkspaceAccount) error {
	if a.WorkspaceID == "" || a.AccountID == "" {
		return fmt.Errorf("workspace_id and account_id required")
	}
	if a.Provider == "" {
		a.Provider = "linkedin"
	}
	if a.Status == "" {
		a.Status = "active"
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO workspace_accounts (workspace_id, user_id, provider, account_id, account_name, status)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (workspace_id, account_id) DO UPDATE SET provider = EXCLUDED.provider, account_name = EXCLUDED.account_name, status = EXCLUDED.status, updated_at = NOW()
`, a.WorkspaceID, nullableString(a.UserID), a.Provider, a.AccountID, a.AccountName, a.Status)
	return err
}
