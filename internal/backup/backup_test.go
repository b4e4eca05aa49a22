package backup

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/opsctl/config"
	"github.com/mohammad-safakhou/opsctl/internal/airtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	tables   map[string][]map[string]any
	restored map[string][]map[string]any
	applied  bool
}

func (f *fakeStore) DumpTable(_ context.Context, table string) ([]map[string]any, error) {
	return f.tables[table], nil
}

func (f *fakeStore) RestoreRows(_ context.Context, table string, rows []map[string]any, apply bool) (int64, error) {
	if f.restored == nil {
		f.restored = map[string][]map[string]any{}
	}
	f.restored[table] = rows
	f.applied = apply
	return int64(len(rows)), nil
}

type fakeRecords struct {
	written map[string][]airtable.Fields
	mergeOn []string
	records []airtable.Record
}

func (f *fakeRecords) ListRecords(context.Context, string) ([]airtable.Record, error) {
	return f.records, nil
}

func (f *fakeRecords) CreateRecords(_ context.Context, table string, rows []airtable.Fields, mergeOn ...string) (int, error) {
	if f.written == nil {
		f.written = map[string][]airtable.Fields{}
	}
	f.written[table] = rows
	f.mergeOn = mergeOn
	return len(rows), nil
}

func TestExportFlattensNestedValues(t *testing.T) {
	st := &fakeStore{tables: map[string][]map[string]any{
		"campaigns": {{"id": "c1", "name": "Q2", "follow_up_messages": []any{"a", "<b>"}, "workspace_id": nil}},
	}}
	rec := &fakeRecords{}
	e := &Exporter{Store: st, Records: rec}

	n, err := e.ExportToAirtable(context.Background(), "campaigns")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"id"}, rec.mergeOn)
	row := rec.written["campaigns"][0]
	assert.Equal(t, `["a","<b>"]`, row["follow_up_messages"])
	_, hasNull := row["workspace_id"]
	assert.False(t, hasNull)
}

func TestImportSkipsRecordsWithoutID(t *testing.T) {
	st := &fakeStore{}
	rec := &fakeRecords{records: []airtable.Record{
		{ID: "rec1", Fields: airtable.Fields{"id": "ws-1", "name": "Acme"}},
		{ID: "rec2", Fields: airtable.Fields{"name": "no id"}},
	}}
	i := &Importer{Store: st, Records: rec}

	res, err := i.RestoreFromAirtable(context.Background(), "workspaces", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, int64(1), res.Rows)
	assert.False(t, st.applied)
	assert.Equal(t, "Acme", st.restored["workspaces"][0]["name"])
}

type memArchive struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memArchive) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objs == nil {
		m.objs = map[string][]byte{}
	}
	m.objs[key] = body
	return nil
}

func (m *memArchive) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

func (m *memArchive) List(context.Context) ([]Object, error) {
	var out []Object
	for k, v := range m.objs {
		out = append(out, Object{Key: k, Size: int64(len(v))})
	}
	return out, nil
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := &fakeStore{tables: map[string][]map[string]any{
		"workspaces":        {{"id": "ws-1", "name": "Acme"}},
		"workspace_members": {{"id": "m1", "workspace_id": "ws-1", "user_id": "u1"}},
	}}
	arch := &memArchive{}
	s := &Snapshotter{
		Store:   st,
		Archive: arch,
		Dir:     t.TempDir(),
		Now:     func() time.Time { return time.Date(2025, 7, 1, 3, 4, 5, 0, time.UTC) },
	}

	info, err := s.Snapshot(context.Background(), []string{"workspace_members", "workspaces"})
	require.NoError(t, err)
	assert.Equal(t, "snapshots/snapshot-20250701-030405.json", info.Key)
	assert.Equal(t, 1, info.Tables["workspaces"])
	_, err = os.Stat(info.Path)
	require.NoError(t, err)
	require.Contains(t, arch.objs, info.Key)

	counts, err := s.Restore(context.Background(), info.Path, nil, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"workspaces": 1, "workspace_members": 1}, counts)
	assert.True(t, st.applied)

	require.NoError(t, os.Remove(info.Path))
	counts, err = s.Restore(context.Background(), info.Key, []string{"workspaces"}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"workspaces": 1}, counts)
}

func TestSnapshotRejectsUnknownTable(t *testing.T) {
	s := &Snapshotter{Store: &fakeStore{}, Dir: t.TempDir()}
	_, err := s.Snapshot(context.Background(), []string{"auth.users"})
	assert.Error(t, err)
}

func TestResolveTablesKeepsParentOrder(t *testing.T) {
	got, err := resolveTables([]string{"campaign_prospects", "profiles", "campaigns"})
	require.NoError(t, err)
	assert.Equal(t, []string{"profiles", "campaigns", "campaign_prospects"}, got)
}

func TestS3ArchiveAgainstFakeEndpoint(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case r.Method == http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = b
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
			w.Header().Set("Content-Type", "application/xml")
			var sb strings.Builder
			sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>ops</Name><IsTruncated>false</IsTruncated>`)
			for k, v := range objects {
				key := strings.TrimPrefix(k, "/ops/")
				sb.WriteString(`<Contents><Key>` + key + `</Key><Size>` + itoa(len(v)) + `</Size><LastModified>2025-07-01T03:04:05.000Z</LastModified></Contents>`)
			}
			sb.WriteString(`</ListBucketResult>`)
			_, _ = w.Write([]byte(sb.String()))
		case r.Method == http.MethodGet:
			b, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(b)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	a, err := NewS3Archive(context.Background(), config.S3Config{
		Endpoint:        srv.URL,
		Bucket:          "ops",
		Prefix:          "opsctl",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"hello": "world"})
	require.NoError(t, a.Put(context.Background(), "snapshots/s1.json", body))
	mu.Lock()
	_, stored := objects["/ops/opsctl/snapshots/s1.json"]
	mu.Unlock()
	require.True(t, stored, "expected path-style key under prefix")

	got, err := a.Get(context.Background(), "snapshots/s1.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(got))

	objs, err := a.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "opsctl/snapshots/s1.json", objs[0].Key)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestNewS3ArchiveRequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), config.S3Config{})
	assert.Error(t, err)
}
