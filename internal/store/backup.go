package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// BackupTables lists the tables that may be dumped and restored, parents
// first so a restore never references rows that are not there yet.
var BackupTables = []string{
	"profiles",
	"workspaces",
	"workspace_members",
	"workspace_accounts",
	"campaigns",
	"campaign_prospects",
	"approval_sessions",
	"approval_decisions",
}

// IsBackupTable reports whether t is in BackupTables.
func IsBackupTable(t string) bool {
	for _, name := range BackupTables {
		if name == t {
			return true
		}
	}
	return false
}

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DumpTable returns every row of table as a column→value map. Numbers are
// kept as json.Number so ids and counts survive a round trip unchanged.
func (s *Store) DumpTable(ctx context.Context, table string) ([]map[string]any, error) {
	if !IsBackupTable(table) {
		return nil, fmt.Errorf("table %q is not backed up", table)
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT row_to_json(t)::text FROM `+pq.QuoteIdentifier(table)+` t ORDER BY t.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		row := map[string]any{}
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// RestoreRows upserts rows into table keyed by id. With apply false the
// writes are rolled back and only the count is reported.
func (s *Store) RestoreRows(ctx context.Context, table string, rows []map[string]any, apply bool) (int64, error) {
	if !IsBackupTable(table) {
		return 0, fmt.Errorf("table %q is not backed up", table)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return s.inTx(ctx, apply, func(tx *sql.Tx) (int64, error) {
		var total int64
		for i, row := range rows {
			query, args, err := upsertStatement(table, row)
			if err != nil {
				return 0, fmt.Errorf("%s row %d: %w", table, i, err)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return 0, fmt.Errorf("%s row %d: %w", table, i, err)
			}
			n, err := affected(res)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	})
}

func upsertStatement(table string, row map[string]any) (string, []any, error) {
	if _, ok := row["id"]; !ok {
		return "", nil, fmt.Errorf("missing id column")
	}
	cols := make([]string, 0, len(row))
	for c := range row {
		if !columnName.MatchString(c) {
			return "", nil, fmt.Errorf("invalid column name %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pq.QuoteIdentifier(table))
	b.WriteString(" (")
	args := make([]any, 0, len(cols))
	var updates []string
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pq.QuoteIdentifier(c))
		v, err := columnValue(row[c])
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", c, err)
		}
		args = append(args, v)
		if c != "id" {
			updates = append(updates, pq.QuoteIdentifier(c)+" = EXCLUDED."+pq.QuoteIdentifier(c))
		}
	}
	b.WriteString(") VALUES (")
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(") ON CONFLICT (\"id\") ")
	if len(updates) == 0 {
		b.WriteString("DO NOTHING")
	} else {
		b.WriteString("DO UPDATE SET ")
		b.WriteString(strings.Join(updates, ", "))
	}
	return b.String(), args, nil
}

// columnValue converts decoded JSON values into driver arguments. Nested
// objects and arrays go back as JSON text, which Postgres casts into
// jsonb columns.
func columnValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, bool, int64, float64:
		return t, nil
	case json.Number:
		return t.String(), nil
	case map[string]any, []any:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return nil, err
		}
		return strings.TrimSpace(buf.String()), nil
	default:
		return fmt.Sprint(t), nil
	}
}
