package datagateway

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

// WriteBackSingle applies one (row, tracking number, shipped-at) update to
// the backing delimited source, if the source supports in-place write-back.
func (g *Gateway) WriteBackSingle(ctx context.Context, rowNumber int, trackingNumber string, shippedAt time.Time) error {
	return g.WriteBackBatch(ctx, []domain.WriteBackUpdate{{RowNumber: rowNumber, TrackingNumber: trackingNumber, ShippedAt: shippedAt}})
}

// WriteBackBatch applies a batch of updates atomically: the source file is
// read in full, rewritten to a temp file in the same directory, then
// swapped into place with os.Rename so a crash mid-write never leaves a
// half-written source file on disk.
func (g *Gateway) WriteBackBatch(ctx context.Context, updates []domain.WriteBackUpdate) error {
	g.mu.RLock()
	info := g.info
	g.mu.RUnlock()

	if info.SourceType != "delimited" {
		return fmt.Errorf("op=datagateway.WriteBackBatch source_type=%s: %w", info.SourceType, domain.NewTaxonomyError("E-4003", "write-back is only supported for delimited sources"))
	}

	return applyCSVUpdatesAtomic(info.Reference, updates)
}

// ReplayWriteBackFromJob re-applies a job's write-back updates after a crash,
// refusing to proceed if the source has drifted since the job ran (its
// signature no longer matches what the job recorded at import time).
func (g *Gateway) ReplayWriteBackFromJob(ctx context.Context, jobID, expectedSignature string, updates []domain.WriteBackUpdate) error {
	current, err := g.GetSourceSignature(ctx)
	if err != nil {
		return fmt.Errorf("op=datagateway.ReplayWriteBackFromJob job_id=%s: %w", jobID, err)
	}
	if current != expectedSignature {
		return fmt.Errorf("op=datagateway.ReplayWriteBackFromJob job_id=%s: %w", jobID, domain.ErrSignatureMismatch)
	}
	return g.WriteBackBatch(ctx, updates)
}

// applyCSVUpdatesAtomic rewrites path with tracking-number/shipped-at columns
// populated for the given row numbers, via temp-file-then-rename.
func applyCSVUpdatesAtomic(path string, updates []domain.WriteBackUpdate) error {
	byRow := make(map[int]domain.WriteBackUpdate, len(updates))
	for _, u := range updates {
		byRow[u.RowNumber] = u
	}

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.open path=%s: %w", path, domain.NewTaxonomyError("E-4002", err.Error()))
	}
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	all, err := reader.ReadAll()
	src.Close()
	if err != nil {
		return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.read path=%s: %w", path, domain.NewTaxonomyError("E-1003", err.Error()))
	}
	if len(all) == 0 {
		return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic path=%s: %w", path, domain.NewTaxonomyError("E-1002", path))
	}

	header := all[0]
	trackingCol := ensureColumn(&header, "tracking_number")
	shippedCol := ensureColumn(&header, "shipped_at")

	for rowNumber, rec := range all[1:] {
		upd, ok := byRow[rowNumber+1]
		if !ok {
			continue
		}
		rec = growRow(rec, len(header))
		rec[trackingCol] = upd.TrackingNumber
		rec[shippedCol] = upd.ShippedAt.UTC().Format(time.RFC3339)
		all[rowNumber+1] = rec
	}
	all[0] = header

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".shipagent-writeback-*.tmp")
	if err != nil {
		return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.createTemp dir=%s: %w", dir, domain.NewTaxonomyError("E-4002", err.Error()))
	}
	tmpPath := tmp.Name()

	writer := csv.NewWriter(tmp)
	writeErr := writer.WriteAll(all)
	writer.Flush()
	flushErr := writer.Error()
	closeErr := tmp.Close()

	if writeErr != nil || flushErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if writeErr != nil {
			return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.write path=%s: %w", path, domain.NewTaxonomyError("E-4002", writeErr.Error()))
		}
		if flushErr != nil {
			return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.flush path=%s: %w", path, domain.NewTaxonomyError("E-4002", flushErr.Error()))
		}
		return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.close path=%s: %w", path, domain.NewTaxonomyError("E-4002", closeErr.Error()))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("op=datagateway.applyCSVUpdatesAtomic.rename path=%s: %w", path, domain.NewTaxonomyError("E-4002", err.Error()))
	}
	return nil
}

func ensureColumn(header *[]string, name string) int {
	for i, col := range *header {
		if col == name {
			return i
		}
	}
	*header = append(*header, name)
	return len(*header) - 1
}

func growRow(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}
