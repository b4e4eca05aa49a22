package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mohammad-safakhou/opsctl/internal/store"
	"go.uber.org/zap"
)

// Snapshot is the on-disk and archived backup format.
type Snapshot struct {
	CreatedAt time.Time                   `json:"created_at"`
	Tables    map[string][]map[string]any `json:"tables"`
}

// Archive stores snapshot files remotely.
type Archive interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context) ([]Object, error)
}

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type Snapshotter struct {
	Store Store
	// Archive is optional; without it snapshots stay local.
	Archive Archive
	Dir     string
	Logger  *zap.Logger
	Now     func() time.Time
}

type SnapshotInfo struct {
	Path   string
	Key    string
	Bytes  int
	Tables map[string]int
}

func (s *Snapshotter) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Snapshotter) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func resolveTables(tables []string) ([]string, error) {
	if len(tables) == 0 {
		return store.BackupTables, nil
	}
	for _, t := range tables {
		if !store.IsBackupTable(t) {
			return nil, fmt.Errorf("table %q is not backed up (known: %v)", t, store.BackupTables)
		}
	}
	// keep parent-first order whatever order the caller used
	out := make([]string, 0, len(tables))
	for _, t := range store.BackupTables {
		for _, want := range tables {
			if t == want {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// Snapshot dumps tables (all backed-up tables when empty) into a JSON file
// under Dir and uploads it when an archive is configured.
func (s *Snapshotter) Snapshot(ctx context.Context, tables []string) (SnapshotInfo, error) {
	tables, err := resolveTables(tables)
	if err != nil {
		return SnapshotInfo{}, err
	}
	snap := Snapshot{CreatedAt: s.now(), Tables: map[string][]map[string]any{}}
	info := SnapshotInfo{Tables: map[string]int{}}
	for _, t := range tables {
		rows, err := s.Store.DumpTable(ctx, t)
		if err != nil {
			return info, fmt.Errorf("dump %s: %w", t, err)
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		snap.Tables[t] = rows
		info.Tables[t] = len(rows)
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return info, err
	}
	info.Bytes = len(body)

	name := "snapshot-" + snap.CreatedAt.Format("20060102-150405") + ".json"
	dir := s.Dir
	if dir == "" {
		dir = "backups"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return info, err
	}
	info.Path = filepath.Join(dir, name)
	if err := os.WriteFile(info.Path, body, 0o600); err != nil {
		return info, err
	}
	if s.Archive != nil {
		info.Key = "snapshots/" + name
		if err := s.Archive.Put(ctx, info.Key, body); err != nil {
			return info, fmt.Errorf("upload snapshot: %w", err)
		}
	}
	s.log().Info("snapshot written", zap.String("path", info.Path), zap.String("key", info.Key), zap.Int("bytes", info.Bytes))
	return info, nil
}

// Load reads a snapshot from a local path, falling back to the archive
// when the file does not exist locally.
func (s *Snapshotter) Load(ctx context.Context, source string) (Snapshot, error) {
	body, err := os.ReadFile(source)
	if errors.Is(err, fs.ErrNotExist) && s.Archive != nil {
		body, err = s.Archive.Get(ctx, source)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", source, err)
	}
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", source, err)
	}
	return snap, nil
}

// Restore upserts the snapshot's tables back into the database, parents
// first. With apply false every table is rolled back.
func (s *Snapshotter) Restore(ctx context.Context, source string, tables []string, apply bool) (map[string]int64, error) {
	snap, err := s.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		for t := range snap.Tables {
			tables = append(tables, t)
		}
	}
	tables, err = resolveTables(tables)
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, t := range tables {
		rows, ok := snap.Tables[t]
		if !ok {
			continue
		}
		n, err := s.Store.RestoreRows(ctx, t, rows, apply)
		if err != nil {
			return out, fmt.Errorf("restore %s: %w", t, err)
		}
		out[t] = n
	}
	s.log().Info("snapshot restored", zap.String("source", source), zap.Bool("applied", apply))
	return out, nil
}
