package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) (*Store, func()) {
	t.Helper()
	ctx := context.Background()
	pg, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcPostgres.WithDatabase("opsctl"),
		tcPostgres.WithUsername("opsctl"),
		tcPostgres.WithPassword("opsctl"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://opsctl:opsctl@%s:%s/opsctl?sslmode=disable", host, port.Port())
	if err := Migrate("file://../../migrations", dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	return st, func() {
		_ = st.Close()
		_ = pg.Terminate(ctx)
	}
}

func TestAuditAndRepairAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	st, done := startPostgres(t)
	defer done()
	ctx := context.Background()

	ws, err := st.CreateWorkspace(ctx, "Acme", "")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	userID := "4b8f4c36-6d0e-4f57-9d7e-5f3f3b0d8a11"
	if err := st.UpsertProfile(ctx, Profile{ID: userID, Email: "Owner@Acme.test"}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if _, err := st.UpsertWorkspaceMember(ctx, WorkspaceMember{WorkspaceID: ws.ID, UserID: userID, Role: RoleOwner}); err != nil {
		t.Fatalf("UpsertWorkspaceMember: %v", err)
	}
	if role, err := st.UpsertWorkspaceMember(ctx, WorkspaceMember{WorkspaceID: ws.ID, UserID: userID}); err != nil || role != RoleOwner {
		t.Fatalf("re-adding without a role must keep owner, got %q %v", role, err)
	}
	orphanUser := "9d2b7e0a-1c3f-4a55-8e21-6a7b8c9d0e1f"
	if _, err := st.UpsertWorkspaceMember(ctx, WorkspaceMember{WorkspaceID: ws.ID, UserID: orphanUser}); err != nil {
		t.Fatalf("UpsertWorkspaceMember orphan: %v", err)
	}

	res, err := st.FindOrphanMembers(ctx, 5)
	if err != nil {
		t.Fatalf("FindOrphanMembers: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("expected 1 orphan, got %+v", res)
	}

	n, err := st.DeleteOrphanMembers(ctx, false)
	if err != nil || n != 1 {
		t.Fatalf("dry run: n=%d err=%v", n, err)
	}
	if res, _ := st.FindOrphanMembers(ctx, 5); res.Count != 1 {
		t.Fatalf("dry run changed data: %+v", res)
	}
	if n, err := st.DeleteOrphanMembers(ctx, true); err != nil || n != 1 {
		t.Fatalf("apply: n=%d err=%v", n, err)
	}
	if res, _ := st.FindOrphanMembers(ctx, 5); res.Count != 0 {
		t.Fatalf("orphan still present: %+v", res)
	}

	p, err := st.GetProfileByEmail(ctx, "owner@acme.test")
	if err != nil || p.ID != userID {
		t.Fatalf("GetProfileByEmail: %+v %v", p, err)
	}

	rows, err := st.DumpTable(ctx, "workspaces")
	if err != nil || len(rows) != 1 {
		t.Fatalf("DumpTable: %v %v", rows, err)
	}
	rows[0]["name"] = "Acme Renamed"
	if _, err := st.RestoreRows(ctx, "workspaces", rows, true); err != nil {
		t.Fatalf("RestoreRows: %v", err)
	}
	got, err := st.GetWorkspace(ctx, ws.ID)
	if err != nil || got.Name != "Acme Renamed" {
		t.Fatalf("restore did not upsert: %+v %v", got, err)
	}
}
