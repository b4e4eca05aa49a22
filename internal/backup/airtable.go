package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammad-safakhou/opsctl/internal/airtable"
	"go.uber.org/zap"
)

// Store dumps and restores whitelisted tables.
type Store interface {
	DumpTable(ctx context.Context, table string) ([]map[string]any, error)
	RestoreRows(ctx context.Context, table string, rows []map[string]any, apply bool) (int64, error)
}

// Records is the spreadsheet side of a backup.
type Records interface {
	ListRecords(ctx context.Context, table string) ([]airtable.Record, error)
	CreateRecords(ctx context.Context, table string, rows []airtable.Fields, mergeOn ...string) (int, error)
}

// Exporter copies table rows into a same-named Airtable table, upserting on
// the id field so repeated exports do not duplicate records.
type Exporter struct {
	Store   Store
	Records Records
	Logger  *zap.Logger
}

func (e *Exporter) ExportToAirtable(ctx context.Context, table string) (int, error) {
	rows, err := e.Store.DumpTable(ctx, table)
	if err != nil {
		return 0, err
	}
	fields := make([]airtable.Fields, 0, len(rows))
	for _, r := range rows {
		f, err := toFields(r)
		if err != nil {
			return 0, fmt.Errorf("%s row %v: %w", table, r["id"], err)
		}
		fields = append(fields, f)
	}
	n, err := e.Records.CreateRecords(ctx, table, fields, "id")
	if e.Logger != nil {
		e.Logger.Info("airtable export", zap.String("table", table), zap.Int("rows", len(rows)), zap.Int("written", n))
	}
	return n, err
}

// toFields flattens nested values to JSON text because spreadsheet cells
// cannot hold objects. Nulls are dropped.
func toFields(row map[string]any) (airtable.Fields, error) {
	f := airtable.Fields{}
	for k, v := range row {
		switch t := v.(type) {
		case nil:
		case map[string]any, []any:
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(t); err != nil {
				return nil, err
			}
			f[k] = string(bytes.TrimSpace(buf.Bytes()))
		default:
			f[k] = t
		}
	}
	return f, nil
}

// Importer restores a table from its Airtable copy.
type Importer struct {
	Store   Store
	Records Records
	Logger  *zap.Logger
}

type ImportResult struct {
	Records int
	Skipped int
	Rows    int64
	Applied bool
}

// RestoreFromAirtable upserts every record carrying an id back into table.
// With apply false the upsert is rolled back.
func (i *Importer) RestoreFromAirtable(ctx context.Context, table string, apply bool) (ImportResult, error) {
	recs, err := i.Records.ListRecords(ctx, table)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Records: len(recs), Applied: apply}
	rows := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		id, _ := r.Fields["id"].(string)
		if id == "" {
			res.Skipped++
			if i.Logger != nil {
				i.Logger.Warn("airtable record without id skipped", zap.String("table", table), zap.String("record", r.ID))
			}
			continue
		}
		rows = append(rows, map[string]any(r.Fields))
	}
	if res.Rows, err = i.Store.RestoreRows(ctx, table, rows, apply); err != nil {
		return res, err
	}
	return res, nil
}
