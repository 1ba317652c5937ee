package internal

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecrate/crate"
)

func newMockRepository(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	mock.MatchExpectationsInOrder(true)
	return NewPostgresRepository(mock, crate.DefaultTableNames(), 500), mock
}

func TestSaveUploadWithMockPool(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	record := &crate.UploadRecord{
		ID:          uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		FileName:    "users.json",
		FileKind:    crate.FileKindJSON,
		ContentType: "application/json",
		SizeBytes:   128,
		ObjectKey:   "uploads/x/users.json",
		StorageKind: crate.StorageKindSQL,
		Reasoning:   "regular tabular structure fits relational storage",
		TableName:   "data_users",
		RowCount:    2,
		CreatedAt:   1700000000000,
		UpdatedAt:   1700000000000,
	}

	mock.ExpectExec(`^INSERT INTO "crate_uploads"`).
		WithArgs(record.ID, record.FileName, "json", record.ContentType,
			record.SizeBytes, record.ObjectKey, "sql", record.Reasoning,
			record.TableName, record.RowCount, record.CreatedAt, record.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveUpload(ctx, record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUploadNotFound(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	mock.ExpectQuery(`^SELECT .+ FROM "crate_uploads" WHERE id = \$1$`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetUpload(ctx, id)

	require.Error(t, err)
	assert.True(t, crate.IsNotFoundError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUploadNotFound(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	mock.ExpectExec(`^DELETE FROM "crate_uploads" WHERE id = \$1$`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.DeleteUpload(ctx, id)

	require.Error(t, err)
	assert.True(t, crate.IsNotFoundError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUploadsWithMockPool(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`^SELECT COUNT\(\*\) FROM "crate_uploads"$`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`^SELECT .+ FROM "crate_uploads" ORDER BY created_at DESC LIMIT \$1 OFFSET \$2$`).
		WithArgs(20, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "file_name", "file_kind", "content_type", "size_bytes", "object_key",
			"storage_kind", "reasoning", "table_name", "row_count", "created_at", "updated_at",
		}).AddRow(
			uuid.MustParse("44444444-4444-4444-4444-444444444444"), "users.json", "json",
			"application/json", int64(128), "", "sql", "", "data_users", 2,
			int64(1700000000000), int64(1700000000000),
		))

	result, err := repo.ListUploads(ctx, crate.ListRequest{Page: 1, ItemsPerPage: 20})

	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalRecords)
	assert.Equal(t, 1, result.TotalPages)
	require.Len(t, result.Uploads, 1)
	assert.Equal(t, crate.FileKindJSON, result.Uploads[0].FileKind)
	assert.Equal(t, crate.StorageKindSQL, result.Uploads[0].StorageKind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaRecordRoundTripWithMockPool(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	docs, err := crate.ParsePayload([]byte(`[{"id":1,"name":"A"},{"id":2,"name":"B"}]`))
	require.NoError(t, err)
	schema := crate.Derive(crate.Analyze(docs), docs, "users")

	record := &crate.SchemaRecord{
		FileIdentity: "users",
		StorageKind:  crate.StorageKindSQL,
		TableName:    "data_users",
		Columns:      schema.ColumnTypes(),
		Schema:       schema,
		Version:      1,
		CreatedAt:    1700000000000,
		UpdatedAt:    1700000000000,
	}

	mock.ExpectExec(`^INSERT INTO "crate_schema_records"`).
		WithArgs("users", "sql", "data_users", pgxmock.AnyArg(), pgxmock.AnyArg(),
			1, int64(1700000000000), int64(1700000000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveSchemaRecord(ctx, record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTablesWithMockPool(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	docs, err := crate.ParsePayload([]byte(`[{"id":1,"address":{"city":"Paris"}},{"id":2,"address":{"city":"Oslo"}}]`))
	require.NoError(t, err)
	schema := crate.Derive(crate.Analyze(docs), docs, "customers")

	mock.ExpectExec(`^CREATE TABLE IF NOT EXISTS "data_customers" `).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`^CREATE TABLE IF NOT EXISTS "data_customers_address" `).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, repo.EnsureTables(ctx, schema))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsFlatUsesBatch(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	docs, err := crate.ParsePayload([]byte(`[{"id":1,"name":"A"},{"id":2,"name":"B"}]`))
	require.NoError(t, err)
	schema := crate.Derive(crate.Analyze(docs), docs, "users")

	batch := mock.ExpectBatch()
	batch.ExpectExec(`^INSERT INTO "data_users" \("id", "name"\) VALUES `).
		WithArgs("1", "A", "2", "B").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	inserted, err := repo.InsertRows(ctx, schema, docs)

	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsLinkedUsesTransaction(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	docs, err := crate.ParsePayload([]byte(`[{"id":1,"address":{"city":"Paris"}},{"id":2,"address":{"city":"Oslo"}}]`))
	require.NoError(t, err)
	schema := crate.Derive(crate.Analyze(docs), docs, "customers")

	insertRoot := regexp.QuoteMeta(`INSERT INTO "data_customers" ("id") VALUES ($1) RETURNING "_id"`)
	insertChild := regexp.QuoteMeta(`INSERT INTO "data_customers_address" ("data_customers_id", "city") VALUES ($1, $2)`)

	mock.ExpectBegin()
	mock.ExpectQuery("^" + insertRoot + "$").
		WithArgs("1").
		WillReturnRows(pgxmock.NewRows([]string{"_id"}).AddRow(int64(10)))
	mock.ExpectExec("^" + insertChild + "$").
		WithArgs(int64(10), "Paris").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("^" + insertRoot + "$").
		WithArgs("2").
		WillReturnRows(pgxmock.NewRows([]string{"_id"}).AddRow(int64(11)))
	mock.ExpectExec("^" + insertChild + "$").
		WithArgs(int64(11), "Oslo").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	inserted, err := repo.InsertRows(ctx, schema, docs)

	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDocumentsWithMockPool(t *testing.T) {
	ctx := context.Background()
	repo, mock := newMockRepository(t)

	uploadID := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	docs := []any{
		map[string]any{"a": "x"},
		map[string]any{"a": "y"},
	}

	batch := mock.ExpectBatch()
	batch.ExpectExec(`^INSERT INTO "crate_documents" \(upload_id, doc\) VALUES \(\$1, \$2\)$`).
		WithArgs(uploadID, []byte(`{"a":"x"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec(`^INSERT INTO "crate_documents" \(upload_id, doc\) VALUES \(\$1, \$2\)$`).
		WithArgs(uploadID, []byte(`{"a":"y"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := repo.InsertDocuments(ctx, uploadID, docs)

	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}
