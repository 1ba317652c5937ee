package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/filecrate/crate"
)

// DBPool is the subset of pgxpool.Pool the repository uses. Tests substitute
// a pgxmock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresRepository persists upload metadata, schema records, JSON
// documents, and the derived data tables themselves.
type PostgresRepository struct {
	pool      DBPool
	tables    crate.TableNames
	generator *SQLGenerator
	batchSize int
}

// NewPostgresRepository constructs a repository over an existing pool.
func NewPostgresRepository(pool DBPool, tables crate.TableNames, batchSize int) *PostgresRepository {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PostgresRepository{
		pool:      pool,
		tables:    tables,
		generator: NewSQLGenerator(),
		batchSize: batchSize,
	}
}

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return crate.NewConnectionError("database ping failed", err)
	}
	return nil
}

// ============================================================================
// Upload records
// ============================================================================

func (r *PostgresRepository) SaveUpload(ctx context.Context, record *crate.UploadRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, file_name, file_kind, content_type, size_bytes, object_key, storage_kind, reasoning, table_name, row_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			storage_kind = EXCLUDED.storage_kind,
			reasoning = EXCLUDED.reasoning,
			table_name = EXCLUDED.table_name,
			row_count = EXCLUDED.row_count,
			updated_at = EXCLUDED.updated_at`,
		pq.QuoteIdentifier(r.tables.Uploads))

	_, err := r.pool.Exec(ctx, query,
		record.ID, record.FileName, string(record.FileKind), record.ContentType,
		record.SizeBytes, record.ObjectKey, string(record.StorageKind), record.Reasoning,
		record.TableName, record.RowCount, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return crate.NewStorageError("failed to save upload record", err).WithUpload(record.ID.String())
	}
	return nil
}

func (r *PostgresRepository) GetUpload(ctx context.Context, id uuid.UUID) (*crate.UploadRecord, error) {
	query := fmt.Sprintf(`SELECT id, file_name, file_kind, content_type, size_bytes, object_key, storage_kind, reasoning, table_name, row_count, created_at, updated_at
		FROM %s WHERE id = $1`, pq.QuoteIdentifier(r.tables.Uploads))

	record := &crate.UploadRecord{}
	var fileKind, storageKind string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&record.ID, &record.FileName, &fileKind, &record.ContentType,
		&record.SizeBytes, &record.ObjectKey, &storageKind, &record.Reasoning,
		&record.TableName, &record.RowCount, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, crate.NewUploadNotFoundError(id.String())
		}
		return nil, crate.NewQueryExecutionError("failed to fetch upload record", err)
	}
	record.FileKind = crate.FileKind(fileKind)
	record.StorageKind = crate.StorageKind(storageKind)
	return record, nil
}

func (r *PostgresRepository) ListUploads(ctx context.Context, req crate.ListRequest) (*crate.ListResult, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.ItemsPerPage < 1 || req.ItemsPerPage > 200 {
		req.ItemsPerPage = 20
	}

	where := ""
	args := []any{}
	if req.FileKind != "" {
		where = " WHERE file_kind = $1"
		args = append(args, string(req.FileKind))
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", pq.QuoteIdentifier(r.tables.Uploads), where)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, crate.NewQueryExecutionError("failed to count uploads", err)
	}

	offset := (req.Page - 1) * req.ItemsPerPage
	listQuery := fmt.Sprintf(`SELECT id, file_name, file_kind, content_type, size_bytes, object_key, storage_kind, reasoning, table_name, row_count, created_at, updated_at
		FROM %s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		pq.QuoteIdentifier(r.tables.Uploads), where, len(args)+1, len(args)+2)
	args = append(args, req.ItemsPerPage, offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, crate.NewQueryExecutionError("failed to list uploads", err)
	}
	defer rows.Close()

	uploads := make([]crate.UploadRecord, 0, req.ItemsPerPage)
	for rows.Next() {
		var record crate.UploadRecord
		var fileKind, storageKind string
		if err := rows.Scan(
			&record.ID, &record.FileName, &fileKind, &record.ContentType,
			&record.SizeBytes, &record.ObjectKey, &storageKind, &record.Reasoning,
			&record.TableName, &record.RowCount, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, crate.NewQueryExecutionError("failed to scan upload record", err)
		}
		record.FileKind = crate.FileKind(fileKind)
		record.StorageKind = crate.StorageKind(storageKind)
		uploads = append(uploads, record)
	}
	if err := rows.Err(); err != nil {
		return nil, crate.NewQueryExecutionError("failed to iterate upload records", err)
	}

	totalPages := (total + req.ItemsPerPage - 1) / req.ItemsPerPage
	return &crate.ListResult{
		Uploads:      uploads,
		TotalRecords: total,
		TotalPages:   totalPages,
		CurrentPage:  req.Page,
		ItemsPerPage: req.ItemsPerPage,
	}, nil
}

func (r *PostgresRepository) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pq.QuoteIdentifier(r.tables.Uploads))
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return crate.NewStorageError("failed to delete upload record", err).WithUpload(id.String())
	}
	if tag.RowsAffected() == 0 {
		return crate.NewUploadNotFoundError(id.String())
	}
	return nil
}

// ============================================================================
// Schema records
// ============================================================================

func (r *PostgresRepository) SaveSchemaRecord(ctx context.Context, record *crate.SchemaRecord) error {
	columnsJSON, err := json.Marshal(record.Columns)
	if err != nil {
		return crate.NewInternalError("failed to serialize schema columns", err)
	}
	var schemaJSON []byte
	if record.Schema != nil {
		schemaJSON, err = json.Marshal(record.Schema)
		if err != nil {
			return crate.NewInternalError("failed to serialize schema", err)
		}
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(file_identity, storage_kind, table_name, columns, schema, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (file_identity) DO UPDATE SET
			storage_kind = EXCLUDED.storage_kind,
			table_name = EXCLUDED.table_name,
			columns = EXCLUDED.columns,
			schema = EXCLUDED.schema,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		pq.QuoteIdentifier(r.tables.SchemaRecords))

	_, err = r.pool.Exec(ctx, query,
		record.FileIdentity, string(record.StorageKind), record.TableName,
		columnsJSON, schemaJSON, record.Version, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return crate.NewStorageError("failed to save schema record", err)
	}
	return nil
}

func (r *PostgresRepository) GetSchemaRecord(ctx context.Context, fileIdentity string) (*crate.SchemaRecord, error) {
	query := fmt.Sprintf(`SELECT file_identity, storage_kind, table_name, columns, schema, version, created_at, updated_at
		FROM %s WHERE file_identity = $1`, pq.QuoteIdentifier(r.tables.SchemaRecords))

	record := &crate.SchemaRecord{}
	var storageKind string
	var columnsJSON, schemaJSON []byte
	err := r.pool.QueryRow(ctx, query, fileIdentity).Scan(
		&record.FileIdentity, &storageKind, &record.TableName,
		&columnsJSON, &schemaJSON, &record.Version, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, crate.NewSchemaNotFoundError(fileIdentity)
		}
		return nil, crate.NewQueryExecutionError("failed to fetch schema record", err)
	}
	record.StorageKind = crate.StorageKind(storageKind)
	if len(columnsJSON) > 0 {
		if err := json.Unmarshal(columnsJSON, &record.Columns); err != nil {
			return nil, crate.NewInternalError("failed to decode schema columns", err)
		}
	}
	if len(schemaJSON) > 0 {
		record.Schema = &crate.RelationalSchema{}
		if err := json.Unmarshal(schemaJSON, record.Schema); err != nil {
			return nil, crate.NewInternalError("failed to decode schema", err)
		}
	}
	return record, nil
}

func (r *PostgresRepository) DeleteSchemaRecord(ctx context.Context, fileIdentity string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE file_identity = $1", pq.QuoteIdentifier(r.tables.SchemaRecords))
	if _, err := r.pool.Exec(ctx, query, fileIdentity); err != nil {
		return crate.NewStorageError("failed to delete schema record", err)
	}
	return nil
}

// ============================================================================
// Derived data tables
// ============================================================================

// EnsureTables creates every table of a derived schema, root first so child
// foreign keys resolve. Table creation and row insertion are separate
// statements; a failure in between leaves an empty table behind.
func (r *PostgresRepository) EnsureTables(ctx context.Context, schema *crate.RelationalSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	root := schema.RootTable()
	if _, err := r.pool.Exec(ctx, r.generator.CreateTable(root)); err != nil {
		return crate.NewTableCreationError(root.Name, err)
	}
	for _, child := range schema.ChildTables() {
		if _, err := r.pool.Exec(ctx, r.generator.CreateTable(&child)); err != nil {
			return crate.NewTableCreationError(child.Name, err)
		}
	}
	return nil
}

// DropTables removes a derived schema's tables, children before the root.
func (r *PostgresRepository) DropTables(ctx context.Context, schema *crate.RelationalSchema) error {
	for _, child := range schema.ChildTables() {
		if _, err := r.pool.Exec(ctx, r.generator.DropTable(child.Name)); err != nil {
			return crate.NewStorageError("failed to drop table "+child.Name, err)
		}
	}
	root := schema.RootTable()
	if root != nil {
		if _, err := r.pool.Exec(ctx, r.generator.DropTable(root.Name)); err != nil {
			return crate.NewStorageError("failed to drop table "+root.Name, err)
		}
	}
	return nil
}

// TruncateTables empties a derived schema's tables for an overwrite.
func (r *PostgresRepository) TruncateTables(ctx context.Context, schema *crate.RelationalSchema) error {
	root := schema.RootTable()
	if root == nil {
		return crate.NewSchemaInvalidError("schema has no root table")
	}
	if _, err := r.pool.Exec(ctx, r.generator.TruncateTable(root.Name)); err != nil {
		return crate.NewStorageError("failed to truncate table "+root.Name, err)
	}
	return nil
}

// InsertRows loads documents into a derived schema and returns the number of
// root rows written. Flat schemas go through batched multi-value inserts;
// schemas with child tables insert row by row inside a transaction so the
// generated root keys can feed the child foreign keys.
func (r *PostgresRepository) InsertRows(ctx context.Context, schema *crate.RelationalSchema, docs []any) (int, error) {
	root := schema.RootTable()
	if root == nil {
		return 0, crate.NewSchemaInvalidError("schema has no root table")
	}

	// Primitive-array layout: a single document that is an array becomes
	// one row per element.
	if len(docs) == 1 {
		if arr, ok := docs[0].([]any); ok {
			return r.insertPrimitiveRows(ctx, root, arr)
		}
	}

	objects := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if obj, ok := doc.(map[string]any); ok {
			objects = append(objects, obj)
		}
	}

	if len(schema.ChildTables()) > 0 {
		return r.insertLinkedRows(ctx, schema, objects)
	}
	return r.insertFlatRows(ctx, root, objects)
}

func (r *PostgresRepository) insertPrimitiveRows(ctx context.Context, root *crate.TableDef, items []any) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for i := 0; i < len(items); i += r.batchSize {
		end := i + r.batchSize
		if end > len(items) {
			end = len(items)
		}
		query, args := r.generator.InsertPrimitiveValues(root, items[i:end])
		batch.Queue(query, args...)
	}
	if err := r.flushBatch(ctx, batch); err != nil {
		return 0, crate.NewRowInsertError(root.Name, err)
	}
	return len(items), nil
}

func (r *PostgresRepository) insertFlatRows(ctx context.Context, root *crate.TableDef, objects []map[string]any) (int, error) {
	if len(objects) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for i := 0; i < len(objects); i += r.batchSize {
		end := i + r.batchSize
		if end > len(objects) {
			end = len(objects)
		}
		query, args := r.generator.MultiValueInsert(root, objects[i:end])
		batch.Queue(query, args...)
	}
	if err := r.flushBatch(ctx, batch); err != nil {
		return 0, crate.NewRowInsertError(root.Name, err)
	}
	return len(objects), nil
}

func (r *PostgresRepository) insertLinkedRows(ctx context.Context, schema *crate.RelationalSchema, objects []map[string]any) (int, error) {
	root := schema.RootTable()
	children := schema.ChildTables()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, crate.NewTransactionError("failed to begin insert transaction", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	inserted := 0
	for _, obj := range objects {
		query, args := r.generator.InsertReturningID(root, obj)
		var rootID int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&rootID); err != nil {
			return 0, crate.NewRowInsertError(root.Name, err)
		}

		for i := range children {
			child := &children[i]
			nested, ok := obj[child.SourceField].(map[string]any)
			if !ok {
				continue
			}
			childQuery, childArgs := r.generator.InsertChildRow(child, rootID, nested)
			if _, err := tx.Exec(ctx, childQuery, childArgs...); err != nil {
				return 0, crate.NewRowInsertError(child.Name, err)
			}
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, crate.NewTransactionError("failed to commit insert transaction", err)
	}
	return inserted, nil
}

func (r *PostgresRepository) flushBatch(ctx context.Context, batch *pgx.Batch) error {
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Documents
// ============================================================================

func (r *PostgresRepository) InsertDocuments(ctx context.Context, uploadID uuid.UUID, docs []any) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	query := fmt.Sprintf("INSERT INTO %s (upload_id, doc) VALUES ($1, $2)",
		pq.QuoteIdentifier(r.tables.Documents))
	for _, doc := range docs {
		serialized, err := json.Marshal(doc)
		if err != nil {
			return 0, crate.NewInternalError("failed to serialize document", err)
		}
		batch.Queue(query, uploadID, serialized)
	}
	if err := r.flushBatch(ctx, batch); err != nil {
		return 0, crate.NewRowInsertError(r.tables.Documents, err)
	}
	return len(docs), nil
}

func (r *PostgresRepository) DeleteDocuments(ctx context.Context, uploadID uuid.UUID) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE upload_id = $1", pq.QuoteIdentifier(r.tables.Documents))
	if _, err := r.pool.Exec(ctx, query, uploadID); err != nil {
		return crate.NewStorageError("failed to delete documents", err).WithUpload(uploadID.String())
	}
	return nil
}

// Stats aggregates upload metadata straight from PostgreSQL. The analytics
// mirror is the preferred source; this is the fallback when it is shedding
// load.
func (r *PostgresRepository) Stats(ctx context.Context) (*crate.DashboardStats, error) {
	stats := &crate.DashboardStats{
		ByStorageKind: make(map[string]int64),
		ByFileKind:    make(map[string]int64),
		GeneratedAt:   time.Now().UTC(),
	}
	uploads := pq.QuoteIdentifier(r.tables.Uploads)

	query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM %s", uploads)
	if err := r.pool.QueryRow(ctx, query).Scan(&stats.TotalUploads, &stats.TotalBytes); err != nil {
		return nil, crate.NewQueryExecutionError("failed to aggregate upload totals", err)
	}

	if err := r.scanCounts(ctx,
		fmt.Sprintf("SELECT storage_kind, COUNT(*) FROM %s GROUP BY storage_kind", uploads),
		stats.ByStorageKind); err != nil {
		return nil, err
	}
	if err := r.scanCounts(ctx,
		fmt.Sprintf("SELECT file_kind, COUNT(*) FROM %s GROUP BY file_kind", uploads),
		stats.ByFileKind); err != nil {
		return nil, err
	}

	dayQuery := fmt.Sprintf(`SELECT to_char(to_timestamp(created_at / 1000)::date, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM %s GROUP BY day ORDER BY day`, uploads)
	rows, err := r.pool.Query(ctx, dayQuery)
	if err != nil {
		return nil, crate.NewQueryExecutionError("failed to aggregate uploads per day", err)
	}
	defer rows.Close()
	for rows.Next() {
		var bucket crate.DayCount
		if err := rows.Scan(&bucket.Day, &bucket.Count); err != nil {
			return nil, crate.NewQueryExecutionError("failed to scan day bucket", err)
		}
		stats.UploadsPerDay = append(stats.UploadsPerDay, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, crate.NewQueryExecutionError("failed to iterate day buckets", err)
	}
	return stats, nil
}

func (r *PostgresRepository) scanCounts(ctx context.Context, query string, into map[string]int64) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return crate.NewQueryExecutionError("failed to aggregate upload counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return crate.NewQueryExecutionError("failed to scan upload counts", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// InitMetaTables creates the service's own metadata tables. Used by the
// init-db tool and the integration test harness.
func (r *PostgresRepository) InitMetaTables(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			file_name TEXT NOT NULL,
			file_kind TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			object_key TEXT NOT NULL DEFAULT '',
			storage_kind TEXT NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			table_name TEXT NOT NULL DEFAULT '',
			row_count INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, pq.QuoteIdentifier(r.tables.Uploads)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			file_identity TEXT PRIMARY KEY,
			storage_kind TEXT NOT NULL,
			table_name TEXT NOT NULL DEFAULT '',
			columns JSONB,
			schema JSONB,
			version INTEGER NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, pq.QuoteIdentifier(r.tables.SchemaRecords)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			upload_id UUID NOT NULL,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pq.QuoteIdentifier(r.tables.Documents)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_upload_id ON %s (upload_id)`,
			r.tables.Documents, pq.QuoteIdentifier(r.tables.Documents)),
	}

	started := time.Now()
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return crate.NewTableCreationError("metadata tables", err)
		}
	}
	zap.S().Infow("metadata tables ready", "elapsed", time.Since(started))
	return nil
}
