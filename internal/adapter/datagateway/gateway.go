// Package datagateway implements the process-global tabular data source
// singleton backed by an in-memory SQLite query engine.
package datagateway

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// Gateway is the singleton DataGateway implementation. Only one tabular
// source is active at a time within a process, mirroring the single active
// batch job per process the orchestrator enforces.
type Gateway struct {
	mu   sync.RWMutex
	db   *sql.DB
	info domain.SourceInfo
	log  *slog.Logger
}

var _ domain.DataGateway = (*Gateway)(nil)

var (
	singleton     *Gateway
	singletonOnce sync.Once
)

// Instance returns the process-global Gateway, constructing it on first use.
func Instance(log *slog.Logger) *Gateway {
	singletonOnce.Do(func() {
		singleton = &Gateway{log: log}
	})
	return singleton
}

// reset discards the current in-memory source, if any, and opens a fresh
// in-memory SQLite database to hold the next import.
func (g *Gateway) reset() error {
	if g.db != nil {
		g.db.Close()
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("op=datagateway.reset: %w", err)
	}
	g.db = db
	return nil
}

// loadRecords creates the `rows` table from a column list and a slice of
// records, computing a checksum per row and a signature for the whole source.
func (g *Gateway) loadRecords(ctx context.Context, columns []string, records []map[string]string, sourceType, reference string) (domain.SourceInfo, error) {
	if err := g.reset(); err != nil {
		return domain.SourceInfo{}, err
	}
	if len(records) == 0 {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.loadRecords: %w", domain.NewTaxonomyError("E-1002", reference))
	}

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE rows (row_number INTEGER PRIMARY KEY, checksum TEXT")
	for _, col := range columns {
		ddl.WriteString(fmt.Sprintf(", %s TEXT", quoteIdent(col)))
	}
	ddl.WriteString(")")
	if _, err := g.db.ExecContext(ctx, ddl.String()); err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.loadRecords.ddl: %w", domain.NewTaxonomyError("E-4001", err.Error()))
	}

	placeholders := make([]string, 0, len(columns)+2)
	placeholders = append(placeholders, "?", "?")
	for range columns {
		placeholders = append(placeholders, "?")
	}
	insertSQL := fmt.Sprintf("INSERT INTO rows (row_number, checksum, %s) VALUES (%s)",
		strings.Join(quoteIdents(columns), ", "), strings.Join(placeholders, ", "))

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.loadRecords.begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.loadRecords.prepare: %w", err)
	}
	defer stmt.Close()

	hasher := sha256.New()
	for i, rec := range records {
		rowNumber := i + 1
		checksum := rowChecksum(columns, rec)
		args := make([]any, 0, len(columns)+2)
		args = append(args, rowNumber, checksum)
		for _, col := range columns {
			args = append(args, rec[col])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return domain.SourceInfo{}, fmt.Errorf("op=datagateway.loadRecords.insert row=%d: %w", rowNumber, domain.NewTaxonomyError("E-1003", err.Error()))
		}
		fmt.Fprintf(hasher, "%d:%s;", rowNumber, checksum)
	}
	if err := tx.Commit(); err != nil {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.loadRecords.commit: %w", err)
	}

	info := domain.SourceInfo{
		SourceType: sourceType,
		Reference:  reference,
		RowCount:   len(records),
		Columns:    columns,
		Signature:  hex.EncodeToString(hasher.Sum(nil)),
	}

	g.mu.Lock()
	g.info = info
	g.mu.Unlock()

	g.log.Info("op=datagateway.load", slog.String("source_type", sourceType), slog.String("reference", reference), slog.Int("rows", len(records)))
	return info, nil
}

// rowChecksum hashes a row's fields in stable column order, independent of
// map iteration order, so re-importing unchanged data yields the same
// idempotency-key inputs.
func rowChecksum(columns []string, rec map[string]string) string {
	h := sha256.New()
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	for _, col := range cols {
		fmt.Fprintf(h, "%s=%s;", col, rec[col])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteIdents(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = quoteIdent(s)
	}
	return out
}

// ImportRecords loads an in-memory slice of records directly, used by the
// orchestrator when rows are synthesized rather than read from a file.
func (g *Gateway) ImportRecords(ctx context.Context, records []map[string]string, label string) (domain.SourceInfo, error) {
	columns := inferColumns(records)
	return g.loadRecords(ctx, columns, records, "records", label)
}

func inferColumns(records []map[string]string) []string {
	seen := map[string]bool{}
	var columns []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)
	return columns
}

// GetSchema returns the column names of the currently loaded source.
func (g *Gateway) GetSchema(ctx context.Context) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.info.Columns == nil {
		return nil, fmt.Errorf("op=datagateway.GetSchema: %w", domain.ErrNotFound)
	}
	return g.info.Columns, nil
}

// GetSourceInfo returns metadata about the currently loaded source.
func (g *Gateway) GetSourceInfo(ctx context.Context) (domain.SourceInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.info.Reference == "" {
		return domain.SourceInfo{}, fmt.Errorf("op=datagateway.GetSourceInfo: %w", domain.ErrNotFound)
	}
	return g.info, nil
}

// GetSourceSignature returns the content signature of the currently loaded
// source, used to detect drift before replaying a write-back.
func (g *Gateway) GetSourceSignature(ctx context.Context) (string, error) {
	info, err := g.GetSourceInfo(ctx)
	if err != nil {
		return "", err
	}
	return info.Signature, nil
}

// GetRowsByFilter runs a SQL WHERE clause (already translated from the
// user's natural-language filter by the caller) against the rows table and
// returns the matching page along with the total matching count.
func (g *Gateway) GetRowsByFilter(ctx context.Context, whereClause string, params []any, limit, offset int) ([]domain.Row, int, error) {
	g.mu.RLock()
	db := g.db
	columns := append([]string(nil), g.info.Columns...)
	g.mu.RUnlock()

	if db == nil {
		return nil, 0, fmt.Errorf("op=datagateway.GetRowsByFilter: %w", domain.ErrNotFound)
	}

	where := strings.TrimSpace(whereClause)
	if where == "" {
		where = "1=1"
	}

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM rows WHERE %s", where)
	if err := db.QueryRowContext(ctx, countSQL, params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=datagateway.GetRowsByFilter.count: %w", domain.NewTaxonomyError("E-1003", err.Error()))
	}

	if limit <= 0 {
		limit = total
	}
	selectSQL := fmt.Sprintf("SELECT row_number, checksum, %s FROM rows WHERE %s ORDER BY row_number LIMIT ? OFFSET ?",
		strings.Join(quoteIdents(columns), ", "), where)
	args := append(append([]any{}, params...), limit, offset)

	rows, err := db.QueryContext(ctx, selectSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=datagateway.GetRowsByFilter.query: %w", domain.NewTaxonomyError("E-1003", err.Error()))
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		scanDest := make([]any, len(columns)+2)
		var rowNumber int
		var checksum string
		scanDest[0] = &rowNumber
		scanDest[1] = &checksum
		values := make([]sql.NullString, len(columns))
		for i := range columns {
			scanDest[i+2] = &values[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, 0, fmt.Errorf("op=datagateway.GetRowsByFilter.scan: %w", err)
		}
		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			fields[col] = values[i].String
		}
		out = append(out, domain.Row{RowNumber: rowNumber, Checksum: checksum, Fields: fields})
	}
	return out, total, rows.Err()
}
