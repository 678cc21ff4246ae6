package datagateway

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// ImportDelimited loads a CSV (or other single-character-delimited) file
// from path into the gateway.
func (g *Gateway) ImportDelimited(ctx context.Context, path string, delimiter rune, header bool) (domain.SourceInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDelimited path=%s: %w", path, domain.NewTaxonomyError("E-4002", err.Error()))
	}
	defer f.Close()

	r := csv.NewReader(f)
	if delimiter != 0 {
		r.Comma = delimiter
	}
	r.FieldsPerRecord = -1

	all, err := r.ReadAll()
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDelimited.read path=%s: %w", path, domain.NewTaxonomyError("E-1003", err.Error()))
	}
	if len(all) == 0 {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDelimited path=%s: %w", path, domain.NewTaxonomyError("E-1002", path))
	}

	var columns []string
	startIdx := 0
	if header {
		columns = all[0]
		startIdx = 1
	} else {
		columns = make([]string, len(all[0]))
		for i := range columns {
			columns[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	records := make([]map[string]string, 0, len(all)-startIdx)
	for _, line := range all[startIdx:] {
		rec := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(line) {
				rec[col] = line[i]
			}
		}
		records = append(records, rec)
	}

	return g.loadRecords(ctx, columns, records, "delimited", path)
}

// ImportDatabase loads the result of query run against an external database
// identified by connectionString (e.g. "postgres://...") into the gateway.
// The connection is opened here via sql.Open with the fixed database/sql
// driver name "postgres"; the SQL_DIALECT setting is not consulted.
func (g *Gateway) ImportDatabase(ctx context.Context, connectionString, query string) (domain.SourceInfo, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDatabase.open: %w", domain.NewTaxonomyError("E-4001", err.Error()))
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDatabase.query: %w", domain.NewTaxonomyError("E-1003", err.Error()))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDatabase.columns: %w", err)
	}

	var records []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDatabase.scan: %w", err)
		}
		rec := make(map[string]string, len(columns))
		for i, col := range columns {
			rec[col] = values[i].String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.ImportDatabase.rows: %w", err)
	}

	return g.loadRecords(ctx, columns, records, "database", query)
}
