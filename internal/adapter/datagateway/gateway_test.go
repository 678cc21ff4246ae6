package datagateway

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g := &Gateway{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	t.Cleanup(func() {
		if g.db != nil {
			g.db.Close()
		}
	})
	return g
}

func TestImportRecordsAndSignatureStability(t *testing.T) {
	g := newTestGateway(t)
	records := []map[string]string{
		{"order_id": "1", "city": "Springfield"},
		{"order_id": "2", "city": "Shelbyville"},
	}

	info, err := g.ImportRecords(t.Context(), records, "test-batch")
	require.NoError(t, err)
	assert.Equal(t, 2, info.RowCount)
	assert.Equal(t, "records", info.SourceType)
	assert.NotEmpty(t, info.Signature)

	// Re-importing identical data (even with different map iteration order
	// of columns) must yield the same signature.
	again := &Gateway{log: g.log}
	defer func() {
		if again.db != nil {
			again.db.Close()
		}
	}()
	info2, err := again.ImportRecords(t.Context(), records, "test-batch")
	require.NoError(t, err)
	assert.Equal(t, info.Signature, info2.Signature)
}

func TestImportRecordsEmptyIsTaxonomyError(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.ImportRecords(t.Context(), nil, "empty")
	require.Error(t, err)
	var taxErr *domain.TaxonomyError
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, "E-1002", taxErr.Code)
}

func TestGetRowsByFilter(t *testing.T) {
	g := newTestGateway(t)
	records := []map[string]string{
		{"state": "CA"}, {"state": "NY"}, {"state": "CA"},
	}
	_, err := g.ImportRecords(t.Context(), records, "states")
	require.NoError(t, err)

	rows, total, err := g.GetRowsByFilter(t.Context(), `"state" = ?`, []any{"CA"}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "CA", r.Fields["state"])
	}
}

func TestGetRowsByFilterNoSourceLoaded(t *testing.T) {
	g := newTestGateway(t)
	_, _, err := g.GetRowsByFilter(t.Context(), "", nil, 10, 0)
	require.Error(t, err)
}

func TestWriteBackSingleWritesTrackingColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("order_id,city\n1,Springfield\n2,Shelbyville\n"), 0o644))

	g := newTestGateway(t)
	_, err := g.ImportDelimited(t.Context(), path, ',', true)
	require.NoError(t, err)

	shippedAt := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, g.WriteBackSingle(t.Context(), 2, "1Z999", shippedAt))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "tracking_number")
	assert.Contains(t, string(contents), "1Z999")
}

func TestReplayWriteBackSignatureMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte("order_id\n1\n"), 0o644))

	g := newTestGateway(t)
	_, err := g.ImportDelimited(t.Context(), path, ',', true)
	require.NoError(t, err)

	err = g.ReplayWriteBackFromJob(t.Context(), "job-1", "stale-signature", nil)
	require.Error(t, err)
}
