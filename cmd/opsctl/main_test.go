package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/opsctl/internal/audit"
	"github.com/mohammad-safakhou/opsctl/internal/report"
	"github.com/mohammad-safakhou/opsctl/internal/store"
	"github.com/mohammad-safakhou/opsctl/internal/unipile"
	"go.uber.org/zap"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, k := range []string{"DATABASE_URL", "OPSCTL_STORAGE_POSTGRES_URL", "OPSCTL_STORAGE_POSTGRES_HOST", "OPSCTL_METRICS_PUSHGATEWAY_URL"} {
		t.Setenv(k, "")
	}
	var out bytes.Buffer
	a := &app{out: &out}
	root := rootCMD(a)
	root.SetArgs(append([]string{"--no-color"}, args...))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	a.shutdown(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	root := rootCMD(&app{})
	for _, path := range [][]string{
		{"audit"}, {"repair"},
		{"user", "provision"}, {"user", "reset-password"}, {"user", "delete"},
		{"member", "add"}, {"member", "remove"}, {"member", "list"},
		{"workspace", "list"}, {"approvals", "stale"},
		{"campaign", "list"}, {"campaign", "status"}, {"campaign", "dispatch"}, {"campaign", "trigger"},
		{"accounts", "list"}, {"accounts", "sync"},
		{"backup", "export"}, {"backup", "restore"}, {"backup", "snapshot"}, {"backup", "snapshots"}, {"backup", "restore-snapshot"},
		{"migrate"}, {"serve"},
	} {
		cmd, rest, err := root.Find(path)
		if err != nil || len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Fatalf("command %v not registered (got %v, rest %v, err %v)", path, cmd.Name(), rest, err)
		}
	}
}

func TestAuditList(t *testing.T) {
	out, err := run(t, "audit", "--list")
	if err != nil {
		t.Fatalf("audit --list: %v", err)
	}
	for _, name := range audit.Names() {
		if !strings.Contains(out, name) {
			t.Fatalf("check %s missing from output:\n%s", name, out)
		}
	}
}

func TestInvalidUUIDRejectedBeforeConnecting(t *testing.T) {
	_, err := run(t, "campaign", "status", "not-a-uuid")
	if err == nil || !strings.Contains(err.Error(), "not a valid uuid") {
		t.Fatalf("expected uuid error, got %v", err)
	}
}

func TestCampaignListValidatesWorkspaceID(t *testing.T) {
	if _, err := run(t, "campaign", "list", "ws-1"); err == nil || !strings.Contains(err.Error(), "not a valid uuid") {
		t.Fatalf("expected uuid error, got %v", err)
	}
	if _, err := run(t, "campaign", "list"); err == nil || !strings.Contains(err.Error(), "storage.postgres") {
		t.Fatalf("listing every campaign should only need the database, got %v", err)
	}
}

func TestMissingPostgresConfig(t *testing.T) {
	_, err := run(t, "campaign", "status", "6f1c2a8e-3b4d-4e5f-9a0b-1c2d3e4f5a6b")
	if err == nil || !strings.Contains(err.Error(), "storage.postgres") {
		t.Fatalf("expected postgres config error, got %v", err)
	}
}

func TestUnknownCheck(t *testing.T) {
	_, err := run(t, "repair", "nope")
	if !errors.Is(err, audit.ErrUnknownCheck) {
		t.Fatalf("expected ErrUnknownCheck, got %v", err)
	}
}

func TestTablesArg(t *testing.T) {
	all, err := tablesArg("all")
	if err != nil || len(all) == 0 {
		t.Fatalf("all: %v %v", all, err)
	}
	if _, err := tablesArg("auth.users"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestPrintFindings(t *testing.T) {
	var out bytes.Buffer
	a := &app{pr: report.New(&out, true), log: zap.NewNop()}
	findings := []audit.Finding{
		{Check: "orphan-members"},
		{Check: "duplicate-prospects", Description: "duplicated prospects", Count: 3, Samples: []string{"p1"}, Hint: "opsctl repair duplicate-prospects --apply"},
	}
	if err := printFindings(a, findings, false); err != nil {
		t.Fatalf("printFindings: %v", err)
	}
	if !strings.Contains(out.String(), "opsctl repair duplicate-prospects --apply") {
		t.Fatalf("hint missing:\n%s", out.String())
	}
	if err := printFindings(a, findings, true); err == nil {
		t.Fatal("strict mode should fail on findings")
	}
	findings = append(findings, audit.Finding{Check: "stale-approvals", Err: errors.New("timeout")})
	if err := printFindings(a, findings, false); err == nil {
		t.Fatal("expected error when a check failed")
	}
}

func TestSyncedAccount(t *testing.T) {
	acc := unipile.Account{ID: "acc-1", Name: "Sales", Type: "LINKEDIN"}
	acc.Sources = append(acc.Sources, struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}{ID: "s1", Status: "OK"})
	got := syncedAccount("ws-1", "u-1", acc)
	if got.Provider != "linkedin" || got.Status != "active" || got.AccountID != "acc-1" || got.UserID != "u-1" {
		t.Fatalf("unexpected mapping %+v", got)
	}
	acc.Sources[0].Status = "CREDENTIALS"
	if got := syncedAccount("ws-1", "u-1", acc); got.Status != "disconnected" {
		t.Fatalf("expected disconnected, got %q", got.Status)
	}
}

func TestDecisionCounts(t *testing.T) {
	if got := decisionCounts(nil); got != "none" {
		t.Fatalf("empty: %q", got)
	}
	got := decisionCounts([]store.ApprovalDecision{
		{Decision: "rejected"}, {Decision: "Approved"}, {Decision: "approved"},
	})
	if got != "approved=2 rejected=1" {
		t.Fatalf("unexpected counts %q", got)
	}
}
