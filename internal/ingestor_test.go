package internal

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecrate/crate"
)

// stubRepository is an in-memory Repository for pipeline tests.
type stubRepository struct {
	uploads       map[uuid.UUID]*crate.UploadRecord
	schemaRecords map[string]*crate.SchemaRecord
	documents     map[uuid.UUID][]any
	tablesCreated []string
	tablesDropped []string
	rowsInserted  int
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		uploads:       make(map[uuid.UUID]*crate.UploadRecord),
		schemaRecords: make(map[string]*crate.SchemaRecord),
		documents:     make(map[uuid.UUID][]any),
	}
}

func (s *stubRepository) SaveUpload(_ context.Context, record *crate.UploadRecord) error {
	clone := *record
	s.uploads[record.ID] = &clone
	return nil
}

func (s *stubRepository) GetUpload(_ context.Context, id uuid.UUID) (*crate.UploadRecord, error) {
	record, ok := s.uploads[id]
	if !ok {
		return nil, crate.NewUploadNotFoundError(id.String())
	}
	clone := *record
	return &clone, nil
}

func (s *stubRepository) ListUploads(_ context.Context, req crate.ListRequest) (*crate.ListResult, error) {
	result := &crate.ListResult{CurrentPage: 1, ItemsPerPage: req.ItemsPerPage}
	for _, record := range s.uploads {
		result.Uploads = append(result.Uploads, *record)
	}
	result.TotalRecords = len(result.Uploads)
	result.TotalPages = 1
	return result, nil
}

func (s *stubRepository) DeleteUpload(_ context.Context, id uuid.UUID) error {
	if _, ok := s.uploads[id]; !ok {
		return crate.NewUploadNotFoundError(id.String())
	}
	delete(s.uploads, id)
	return nil
}

func (s *stubRepository) SaveSchemaRecord(_ context.Context, record *crate.SchemaRecord) error {
	clone := *record
	s.schemaRecords[record.FileIdentity] = &clone
	return nil
}

func (s *stubRepository) GetSchemaRecord(_ context.Context, fileIdentity string) (*crate.SchemaRecord, error) {
	record, ok := s.schemaRecords[fileIdentity]
	if !ok {
		return nil, crate.NewSchemaNotFoundError(fileIdentity)
	}
	clone := *record
	return &clone, nil
}

func (s *stubRepository) DeleteSchemaRecord(_ context.Context, fileIdentity string) error {
	delete(s.schemaRecords, fileIdentity)
	return nil
}

func (s *stubRepository) EnsureTables(_ context.Context, schema *crate.RelationalSchema) error {
	for _, table := range schema.Tables {
		s.tablesCreated = append(s.tablesCreated, table.Name)
	}
	return nil
}

func (s *stubRepository) InsertRows(_ context.Context, _ *crate.RelationalSchema, docs []any) (int, error) {
	if len(docs) == 1 {
		if arr, ok := docs[0].([]any); ok {
			s.rowsInserted += len(arr)
			return len(arr), nil
		}
	}
	s.rowsInserted += len(docs)
	return len(docs), nil
}

func (s *stubRepository) DropTables(_ context.Context, schema *crate.RelationalSchema) error {
	for _, table := range schema.Tables {
		s.tablesDropped = append(s.tablesDropped, table.Name)
	}
	return nil
}

func (s *stubRepository) TruncateTables(_ context.Context, _ *crate.RelationalSchema) error {
	return nil
}

func (s *stubRepository) InsertDocuments(_ context.Context, uploadID uuid.UUID, docs []any) (int, error) {
	s.documents[uploadID] = append(s.documents[uploadID], docs...)
	return len(docs), nil
}

func (s *stubRepository) DeleteDocuments(_ context.Context, uploadID uuid.UUID) error {
	delete(s.documents, uploadID)
	return nil
}

func newTestIngestor(repo Repository) *Ingestor {
	cfg := crate.DefaultConfig()
	return NewIngestor(repo, nil, nil, cfg)
}

func TestIngest_SQLUpload(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:    "users.json",
		ContentType: "application/json",
		Data:        []byte(`[{"id":1,"name":"A"},{"id":2,"name":"B"}]`),
	})

	require.NoError(t, err)
	assert.Equal(t, crate.StorageKindSQL, result.Upload.StorageKind)
	assert.Equal(t, "data_users", result.Upload.TableName)
	assert.Equal(t, 2, result.RowsInserted)
	assert.Equal(t, []string{"data_users"}, repo.tablesCreated)

	record, err := repo.GetSchemaRecord(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, crate.StorageKindSQL, record.StorageKind)
	require.NotNil(t, record.Schema)
}

func TestIngest_NoSQLUpload(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "profile.json",
		Data:     []byte(`{"user":{"id":1,"profile":{"bio":"x"}}}`),
	})

	require.NoError(t, err)
	assert.Equal(t, crate.StorageKindNoSQL, result.Upload.StorageKind)
	assert.Empty(t, result.Upload.TableName)
	assert.Len(t, repo.documents[result.Upload.ID], 1)

	record, err := repo.GetSchemaRecord(context.Background(), "profile")
	require.NoError(t, err)
	assert.Nil(t, record.Schema)
	assert.Equal(t, crate.StorageKindNoSQL, record.StorageKind)
}

func TestIngest_NonJSONUpload(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte("plain text"),
	})

	require.NoError(t, err)
	assert.Equal(t, crate.FileKindText, result.Upload.FileKind)
	assert.Equal(t, crate.StorageKindNone, result.Upload.StorageKind)
	assert.Nil(t, result.Decision)
	assert.Empty(t, repo.schemaRecords)
}

func TestIngest_EmptyFile(t *testing.T) {
	ing := newTestIngestor(newStubRepository())

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{FileName: "empty.json"})

	require.Error(t, err)
	var ce *crate.CrateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crate.ErrCodeEmptyFile, ce.Code)
}

func TestIngest_InvalidJSON(t *testing.T) {
	ing := newTestIngestor(newStubRepository())

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "broken.json",
		Data:     []byte(`{"a":`),
	})

	require.Error(t, err)
	var ce *crate.CrateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crate.ErrCodeInvalidJSON, ce.Code)
}

func TestIngest_ConflictWithoutAction(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)
	payload := []byte(`[{"id":1,"name":"A"}]`)

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{FileName: "users.json", Data: payload})
	require.NoError(t, err)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{FileName: "users.json", Data: payload})

	require.Error(t, err)
	assert.True(t, crate.IsConflictError(err))
	require.NotNil(t, result.Comparison)
	assert.True(t, result.Comparison.IsExactMatch)
}

func TestIngest_ConflictAppendExactMatch(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "users.json",
		Data:     []byte(`[{"id":1,"name":"A"},{"id":2,"name":"B"}]`),
	})
	require.NoError(t, err)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:   "users.json",
		Data:       []byte(`[{"id":3,"name":"C"}]`),
		OnConflict: crate.ConflictAppend,
	})

	require.NoError(t, err)
	require.NotNil(t, result.Resolution)
	assert.True(t, result.Resolution.Allowed)
	assert.Equal(t, 1, result.RowsInserted)
	// No new table was created for the append.
	assert.Equal(t, []string{"data_users"}, repo.tablesCreated)
}

func TestIngest_ConflictAppendMismatchRefused(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "users.json",
		Data:     []byte(`[{"id":1,"name":"A"},{"id":2,"name":"B"}]`),
	})
	require.NoError(t, err)

	_, err = ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:   "users.json",
		Data:       []byte(`[{"id":3,"email":"c@example.com"}]`),
		OnConflict: crate.ConflictAppend,
	})

	require.Error(t, err)
	assert.True(t, crate.IsAppendMismatchError(err))
}

func TestIngest_ConflictOverwrite(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "users.json",
		Data:     []byte(`[{"id":1,"name":"A"}]`),
	})
	require.NoError(t, err)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:   "users.json",
		Data:       []byte(`[{"id":1,"email":"a@example.com"}]`),
		OnConflict: crate.ConflictOverwrite,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"data_users"}, repo.tablesDropped)

	record, err := repo.GetSchemaRecord(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)
	assert.Contains(t, record.Columns, "email")
	assert.NotContains(t, record.Columns, "name")
	assert.Equal(t, 1, result.RowsInserted)
}

func TestIngest_ConflictNewVersion(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "users.json",
		Data:     []byte(`[{"id":1,"name":"A"}]`),
	})
	require.NoError(t, err)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:   "users.json",
		Data:       []byte(`[{"id":2,"name":"B"}]`),
		OnConflict: crate.ConflictNewVersion,
	})

	require.NoError(t, err)
	record, err := repo.GetSchemaRecord(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)
	assert.Contains(t, record.TableName, "data_users_v")
	assert.Equal(t, record.TableName, result.Upload.TableName)
	// Old table is left intact alongside the new version.
	assert.Empty(t, repo.tablesDropped)
}

func TestIngest_ConflictReject(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	_, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "users.json",
		Data:     []byte(`[{"id":1,"name":"A"}]`),
	})
	require.NoError(t, err)

	_, err = ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName:   "users.json",
		Data:       []byte(`[{"id":2,"name":"B"}]`),
		OnConflict: crate.ConflictReject,
	})

	require.Error(t, err)
	var ce *crate.CrateError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, crate.ErrCodeConflictRejected, ce.Code)

	record, err := repo.GetSchemaRecord(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 1, record.Version)
}

func TestDeleteUpload_RemovesDerivedState(t *testing.T) {
	repo := newStubRepository()
	ing := newTestIngestor(repo)

	result, err := ing.Ingest(context.Background(), &crate.IngestRequest{
		FileName: "users.json",
		Data:     []byte(`[{"id":1,"name":"A"}]`),
	})
	require.NoError(t, err)

	require.NoError(t, ing.DeleteUpload(context.Background(), result.Upload.ID))

	assert.Contains(t, repo.tablesDropped, "data_users")
	assert.Empty(t, repo.schemaRecords)
	_, err = repo.GetUpload(context.Background(), result.Upload.ID)
	assert.True(t, crate.IsNotFoundError(err))
}

func TestClassify_DryRun(t *testing.T) {
	ing := newTestIngestor(newStubRepository())

	result, err := ing.Classify("users.json", []byte(`[{"id":1,"name":"A"},{"id":2,"name":"B"}]`))

	require.NoError(t, err)
	assert.Equal(t, crate.StorageKindSQL, result.Decision.Kind)
	require.NotNil(t, result.Schema)
	assert.Equal(t, "data_users", result.Schema.RootTable().Name)
}

func TestFileIdentity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"users.json", "users"},
		{"My Report.Final.json", "my_report_final"},
		{"/tmp/path/data.ndjson", "data"},
		{"no-extension", "no_extension"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FileIdentity(tt.in))
		})
	}
}

func TestDetectFileKind(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		declared string
		data     []byte
		want     crate.FileKind
	}{
		{"json extension", "data.json", "", nil, crate.FileKindJSON},
		{"csv extension", "data.csv", "application/octet-stream", nil, crate.FileKindCSV},
		{"image extension", "photo.PNG", "", nil, crate.FileKindImage},
		{"text extension", "readme.md", "", nil, crate.FileKindText},
		{"declared json", "payload", "application/json", []byte(`{"a":1}`), crate.FileKindJSON},
		{"sniffed image", "blob", "", []byte("\x89PNG\r\n\x1a\n0000000000"), crate.FileKindImage},
		{"unknown binary", "blob.bin", "", []byte{0x00, 0x01, 0x02, 0x03}, crate.FileKindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFileKind(tt.fileName, tt.declared, tt.data))
		})
	}
}
