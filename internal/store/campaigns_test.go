package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestDecodeFollowUps(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "strings", raw: `["hi","again"]`, want: []string{"hi", "again"}},
		{name: "objects", raw: `[{"message":"hi","delay_days":3},{"message":"again"}]`, want: []string{"hi", "again"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeFollowUps([]byte(tc.raw))
			if err != nil {
				t.Fatalf("decodeFollowUps: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
	if _, err := decodeFollowUps([]byte(`{"message":"x"}`)); err == nil {
		t.Fatal("expected error for object payload")
	}
}

func TestGetCampaign(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	cols := []string{"id", "workspace_id", "name", "status", "channel", "connection_message", "follow_up_messages", "created_at"}
	mock.ExpectQuery(`FROM campaigns WHERE id=\$1`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("c1", "ws-1", "Q2 founders", "active", "linkedin", "Hi {{first_name}}", []byte(`["ping"]`), time.Now()))
	mock.ExpectQuery(`FROM campaigns WHERE id=\$1`).
		WithArgs("c2").
		WillReturnRows(sqlmock.NewRows(cols))

	c, err := st.GetCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if c.Status != CampaignActive || c.ConnectionMessage != "Hi {{first_name}}" || len(c.FollowUps) != 1 {
		t.Fatalf("unexpected campaign %+v", c)
	}
	if _, err := st.GetCampaign(context.Background(), "c2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetCampaignStatusValidates(t *testing.T) {
	st := &Store{}
	if err := st.SetCampaignStatus(context.Background(), "c1", "running"); err == nil {
		t.Fatal("expected error for unknown campaign status")
	}
}

func TestListCampaignsFiltersByWorkspace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	cols := []string{"id", "workspace_id", "name", "status", "channel", "connection_message", "follow_up_messages", "created_at"}
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM campaigns WHERE workspace_id=\$1 ORDER BY created_at DESC`).
		WithArgs("ws-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("c1", "ws-1", "Founders", "active", "linkedin", "", nil, now))
	mock.ExpectQuery(`FROM campaigns ORDER BY created_at DESC`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c1", "ws-1", "Founders", "active", "linkedin", "", nil, now).
			AddRow("c2", nil, "Stray", "draft", "linkedin", "", nil, now))

	got, err := st.ListCampaigns(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("ListCampaigns: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("unexpected campaigns %+v", got)
	}
	got, err = st.ListCampaigns(context.Background(), "")
	if err != nil {
		t.Fatalf("ListCampaigns all: %v", err)
	}
	if len(got) != 2 || got[1].WorkspaceID != "" {
		t.Fatalf("unexpected campaigns %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
