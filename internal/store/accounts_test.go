package store

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestListWorkspaceAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(`FROM workspace_accounts WHERE workspace_id=\$1 ORDER BY created_at`).
		WithArgs("ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "user_id", "provider", "account_id", "account_name", "status"}).
			AddRow("wa-1", "ws-1", "user-1", "linkedin", "acc-1", "Sales", "active").
			AddRow("wa-2", "ws-1", nil, "gmail", "acc-2", "Inbox", "disconnected"))

	got, err := st.ListWorkspaceAccounts(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("ListWorkspaceAccounts: %v", err)
	}
	if len(got) != 2 || got[0].UserID != "user-1" || got[1].UserID != "" || got[1].Status != "disconnected" {
		t.Fatalf("unexpected accounts %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertWorkspaceAccountDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (workspace_id, account_id) DO UPDATE SET provider = EXCLUDED.provider, account_name = EXCLUDED.account_name, status = EXCLUDED.status, updated_at = NOW()`)).
		WithArgs("ws-1", nil, "linkedin", "acc-1", "Sales", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.UpsertWorkspaceAccount(context.Background(), WorkspaceAccount{WorkspaceID: "ws-1", AccountID: "acc-1", AccountName: "Sales"}); err != nil {
		t.Fatalf("UpsertWorkspaceAccount: %v", err)
	}
	if err := st.UpsertWorkspaceAccount(context.Background(), WorkspaceAccount{WorkspaceID: "ws-1"}); err == nil {
		t.Fatal("expected error without account id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
