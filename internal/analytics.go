package internal

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/filecrate/crate"
)

// AnalyticsMirror keeps a lightweight copy of upload metadata in an embedded
// DuckDB database and serves the dashboard aggregates from it. The mirror is
// best-effort: writes come through the ingestor behind a circuit breaker,
// and a lost mirror only degrades the dashboard to the PostgreSQL fallback.
type AnalyticsMirror struct {
	db *sql.DB
}

// NewAnalyticsMirror opens (or creates) the DuckDB database and ensures the
// mirror table exists. An empty path means in-memory.
func NewAnalyticsMirror(cfg crate.AnalyticsConfig) (*AnalyticsMirror, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, crate.NewConnectionError("failed to open duckdb", err)
	}
	// DuckDB works best over a single connection.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, crate.NewConnectionError("failed to ping duckdb", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS uploads_mirror (
		id VARCHAR PRIMARY KEY,
		file_kind VARCHAR NOT NULL,
		storage_kind VARCHAR NOT NULL,
		size_bytes BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, crate.NewTableCreationError("uploads_mirror", err)
	}

	zap.S().Infow("analytics mirror ready", "path", dsn)
	return &AnalyticsMirror{db: db}, nil
}

// Close closes the underlying DuckDB handle.
func (m *AnalyticsMirror) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

// HealthCheck runs a trivial query against the mirror.
func (m *AnalyticsMirror) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var v int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&v); err != nil {
		return crate.NewConnectionError("duckdb health query failed", err)
	}
	return nil
}

// RecordUpload mirrors one upload record.
func (m *AnalyticsMirror) RecordUpload(ctx context.Context, record *crate.UploadRecord) error {
	_, err := m.db.ExecContext(ctx, `INSERT OR REPLACE INTO uploads_mirror
		(id, file_kind, storage_kind, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID.String(), string(record.FileKind), string(record.StorageKind),
		record.SizeBytes, time.UnixMilli(record.CreatedAt).UTC())
	if err != nil {
		return crate.NewStorageError("failed to mirror upload record", err)
	}
	return nil
}

// Stats aggregates the mirrored records into dashboard numbers.
func (m *AnalyticsMirror) Stats(ctx context.Context) (*crate.DashboardStats, error) {
	stats := &crate.DashboardStats{
		ByStorageKind: make(map[string]int64),
		ByFileKind:    make(map[string]int64),
		GeneratedAt:   time.Now().UTC(),
	}

	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM uploads_mirror").
		Scan(&stats.TotalUploads, &stats.TotalBytes)
	if err != nil {
		return nil, crate.NewQueryExecutionError("failed to aggregate mirror totals", err)
	}

	if err := m.groupCounts(ctx,
		"SELECT storage_kind, COUNT(*) FROM uploads_mirror GROUP BY storage_kind",
		stats.ByStorageKind); err != nil {
		return nil, err
	}
	if err := m.groupCounts(ctx,
		"SELECT file_kind, COUNT(*) FROM uploads_mirror GROUP BY file_kind",
		stats.ByFileKind); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT strftime(created_at, '%Y-%m-%d') AS day, COUNT(*)
		FROM uploads_mirror GROUP BY day ORDER BY day`)
	if err != nil {
		return nil, crate.NewQueryExecutionError("failed to aggregate mirror days", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bucket crate.DayCount
		if err := rows.Scan(&bucket.Day, &bucket.Count); err != nil {
			return nil, crate.NewQueryExecutionError("failed to scan mirror day bucket", err)
		}
		stats.UploadsPerDay = append(stats.UploadsPerDay, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, crate.NewQueryExecutionError("failed to iterate mirror day buckets", err)
	}
	return stats, nil
}

func (m *AnalyticsMirror) groupCounts(ctx context.Context, query string, into map[string]int64) error {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return crate.NewQueryExecutionError("failed to aggregate mirror counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return crate.NewQueryExecutionError("failed to scan mirror counts", err)
		}
		into[key] = count
	}
	return rows.Err()
}
