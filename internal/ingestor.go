package internal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/filecrate/crate"
)

// Repository is the persistence surface the ingestor drives: upload
// metadata, schema records, derived tables, and raw documents.
type Repository interface {
	crate.UploadStore
	crate.SchemaRecordStore
	crate.RowStore
	crate.DocumentStore
}

// Ingestor orchestrates the upload pipeline: file-kind detection, raw byte
// storage, structure analysis, storage classification, schema derivation,
// row or document persistence, and conflict resolution on re-upload.
//
// The core analysis is pure; the ingestor owns all side effects. Table
// creation and row insertion are separate statements with no surrounding
// guard, so a failure in between can leave an empty table. Schema-mutating
// work is serialized per file identity with a keyed mutex.
type Ingestor struct {
	repo      Repository
	objects   crate.ObjectStore
	analytics crate.StatsProvider
	breaker   *CircuitBreaker
	validator *SchemaValidator
	cfg       *crate.Config

	// fallbackStats serves dashboard aggregates when the analytics mirror
	// is disabled or shedding.
	fallbackStats func(ctx context.Context) (*crate.DashboardStats, error)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngestor wires an ingestor. objects and analytics may be nil when the
// corresponding subsystem is disabled.
func NewIngestor(repo Repository, objects crate.ObjectStore, analytics crate.StatsProvider, cfg *crate.Config) *Ingestor {
	return &Ingestor{
		repo:      repo,
		objects:   objects,
		analytics: analytics,
		breaker:   NewCircuitBreaker(5, time.Minute, 30*time.Second),
		validator: NewSchemaValidator(),
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}
}

// identityLock returns the mutex serializing schema mutations for one file
// identity.
func (ing *Ingestor) identityLock(identity string) *sync.Mutex {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	lock, ok := ing.locks[identity]
	if !ok {
		lock = &sync.Mutex{}
		ing.locks[identity] = lock
	}
	return lock
}

// Ingest processes one uploaded file end to end.
func (ing *Ingestor) Ingest(ctx context.Context, req *crate.IngestRequest) (*crate.IngestResult, error) {
	started := time.Now()
	defer func() {
		EmitUploadLatency(ctx, "ingest", time.Since(started).Milliseconds())
	}()

	if len(req.Data) == 0 {
		return nil, crate.NewEmptyFileError(req.FileName)
	}
	if int64(len(req.Data)) > ing.cfg.Ingest.MaxFileSizeBytes {
		return nil, crate.NewFileTooLargeError(int64(len(req.Data)), ing.cfg.Ingest.MaxFileSizeBytes)
	}

	uploadID, err := uuid.NewV7()
	if err != nil {
		return nil, crate.NewInternalError("failed to generate upload id", err)
	}

	kind := DetectFileKind(req.FileName, req.ContentType, req.Data)
	now := time.Now().UnixMilli()
	record := crate.UploadRecord{
		ID:          uploadID,
		FileName:    req.FileName,
		FileKind:    kind,
		ContentType: req.ContentType,
		SizeBytes:   int64(len(req.Data)),
		StorageKind: crate.StorageKindNone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if ing.objects != nil {
		record.ObjectKey = ing.cfg.ObjectStore.KeyPrefix + uploadID.String() + "/" + req.FileName
		if err := ing.objects.Put(ctx, record.ObjectKey, req.Data, req.ContentType); err != nil {
			return nil, err
		}
	}

	result := &crate.IngestResult{Upload: record}
	if kind != crate.FileKindJSON {
		// Non-JSON files are stored as raw objects only.
		if err := ing.repo.SaveUpload(ctx, &result.Upload); err != nil {
			return nil, err
		}
		ing.mirrorUpload(ctx, &result.Upload)
		return result, nil
	}

	if err := ing.classifyAndPersist(ctx, req, result); err != nil {
		return result, err
	}

	if err := ing.repo.SaveUpload(ctx, &result.Upload); err != nil {
		return nil, err
	}
	ing.mirrorUpload(ctx, &result.Upload)
	zap.S().Infow("upload ingested",
		"upload_id", result.Upload.ID,
		"file", result.Upload.FileName,
		"storage_kind", result.Upload.StorageKind,
		"table", result.Upload.TableName,
		"rows", result.RowsInserted)
	return result, nil
}

// classifyAndPersist runs the JSON path: parse, analyze, decide, then either
// derive and load tables or store documents. Fills result in place.
func (ing *Ingestor) classifyAndPersist(ctx context.Context, req *crate.IngestRequest, result *crate.IngestResult) error {
	docs, err := crate.ParsePayload(req.Data)
	if err != nil {
		return err
	}

	profile := crate.Analyze(docs)
	decision := crate.Decide(profile, docs)
	result.Decision = &decision
	result.Upload.StorageKind = decision.Kind
	result.Upload.Reasoning = decision.Reasoning
	EmitClassification(ctx, string(decision.Kind))

	identity := FileIdentity(req.FileName)
	lock := ing.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	existing, err := ing.repo.GetSchemaRecord(ctx, identity)
	if err != nil && !crate.IsNotFoundError(err) {
		return err
	}

	if existing == nil {
		return ing.persistFresh(ctx, identity, profile, docs, decision, result)
	}
	return ing.resolveAndPersist(ctx, existing, req.OnConflict, profile, docs, decision, result)
}

func (ing *Ingestor) persistFresh(
	ctx context.Context,
	identity string,
	profile *crate.StructureProfile,
	docs []any,
	decision crate.StorageDecision,
	result *crate.IngestResult,
) error {
	now := time.Now().UnixMilli()
	record := &crate.SchemaRecord{
		FileIdentity: identity,
		StorageKind:  decision.Kind,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if decision.Kind == crate.StorageKindSQL {
		schema := crate.Derive(profile, docs, identity)
		result.Schema = schema
		record.Schema = schema
		record.Columns = schema.ColumnTypes()
		record.TableName = schema.RootTable().Name
		result.Upload.TableName = record.TableName

		inserted, err := ing.loadTables(ctx, schema, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
	} else {
		inserted, err := ing.repo.InsertDocuments(ctx, result.Upload.ID, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
		EmitRowsInserted(ctx, ing.cfg.Tables.Documents, int64(inserted))
	}

	return ing.repo.SaveSchemaRecord(ctx, record)
}

// resolveAndPersist handles a re-upload whose file identity already has a
// schema record. Without an explicit action the upload is refused with the
// comparison attached so the caller can choose.
func (ing *Ingestor) resolveAndPersist(
	ctx context.Context,
	existing *crate.SchemaRecord,
	action crate.ConflictAction,
	profile *crate.StructureProfile,
	docs []any,
	decision crate.StorageDecision,
	result *crate.IngestResult,
) error {
	var incoming map[string]string
	var schema *crate.RelationalSchema
	if decision.Kind == crate.StorageKindSQL {
		schema = crate.Derive(profile, docs, existing.FileIdentity)
		incoming = schema.ColumnTypes()
		result.Schema = schema
	}

	cmp := crate.Compare(existing.Columns, incoming)
	result.Comparison = &cmp

	if action == "" {
		return crate.NewCrateError(crate.ErrorTypeConflict, crate.ErrCodeSchemaConflict,
			"a schema already exists for this file, choose a conflict action").
			WithDetail("file_identity", existing.FileIdentity).
			WithDetail("comparison", cmp)
	}

	resolution := crate.ResolveConflict(action, cmp)
	result.Resolution = &resolution
	if !resolution.Allowed {
		if action == crate.ConflictAppend {
			return crate.NewAppendMismatchError(cmp)
		}
		return crate.NewInvalidActionError(string(action))
	}

	switch action {
	case crate.ConflictReject:
		return crate.NewConflictRejectedError(existing.FileIdentity)

	case crate.ConflictOverwrite:
		return ing.overwrite(ctx, existing, schema, docs, decision, result)

	case crate.ConflictAppend:
		return ing.append(ctx, existing, schema, docs, decision, result)

	case crate.ConflictNewVersion:
		return ing.newVersion(ctx, existing, schema, docs, decision, result)
	}
	return crate.NewInvalidActionError(string(action))
}

func (ing *Ingestor) overwrite(
	ctx context.Context,
	existing *crate.SchemaRecord,
	schema *crate.RelationalSchema,
	docs []any,
	decision crate.StorageDecision,
	result *crate.IngestResult,
) error {
	if existing.Schema != nil {
		if err := ing.repo.DropTables(ctx, existing.Schema); err != nil {
			return err
		}
	}

	existing.StorageKind = decision.Kind
	existing.Version++
	existing.UpdatedAt = time.Now().UnixMilli()
	existing.Schema = nil
	existing.Columns = nil
	existing.TableName = ""

	if decision.Kind == crate.StorageKindSQL {
		existing.Schema = schema
		existing.Columns = schema.ColumnTypes()
		existing.TableName = schema.RootTable().Name
		result.Upload.TableName = existing.TableName

		inserted, err := ing.loadTables(ctx, schema, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
	} else {
		inserted, err := ing.repo.InsertDocuments(ctx, result.Upload.ID, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
	}

	return ing.repo.SaveSchemaRecord(ctx, existing)
}

func (ing *Ingestor) append(
	ctx context.Context,
	existing *crate.SchemaRecord,
	schema *crate.RelationalSchema,
	docs []any,
	decision crate.StorageDecision,
	result *crate.IngestResult,
) error {
	if existing.StorageKind != decision.Kind {
		return crate.NewCrateError(crate.ErrorTypeConflict, crate.ErrCodeSchemaConflict,
			"cannot append: storage kind differs from the existing upload").
			WithDetail("existing_kind", existing.StorageKind).
			WithDetail("incoming_kind", decision.Kind)
	}

	if decision.Kind == crate.StorageKindSQL {
		// Rows go into the existing table; the stored schema is
		// authoritative for column order and child linkage.
		if err := ing.validator.ValidateDocuments(existing.Schema, docs); err != nil {
			return err
		}
		inserted, err := ing.loadRows(ctx, existing.Schema, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
		result.Upload.TableName = existing.TableName
	} else {
		inserted, err := ing.repo.InsertDocuments(ctx, result.Upload.ID, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
	}

	existing.UpdatedAt = time.Now().UnixMilli()
	return ing.repo.SaveSchemaRecord(ctx, existing)
}

func (ing *Ingestor) newVersion(
	ctx context.Context,
	existing *crate.SchemaRecord,
	schema *crate.RelationalSchema,
	docs []any,
	decision crate.StorageDecision,
	result *crate.IngestResult,
) error {
	existing.StorageKind = decision.Kind
	existing.Version++
	existing.UpdatedAt = time.Now().UnixMilli()

	if decision.Kind == crate.StorageKindSQL {
		schema.Rename(crate.VersionedTableName(schema.RootTable().Name, time.Now()))
		result.Schema = schema
		existing.Schema = schema
		existing.Columns = schema.ColumnTypes()
		existing.TableName = schema.RootTable().Name
		result.Upload.TableName = existing.TableName

		inserted, err := ing.loadTables(ctx, schema, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
	} else {
		existing.Schema = nil
		existing.Columns = nil
		existing.TableName = ""
		inserted, err := ing.repo.InsertDocuments(ctx, result.Upload.ID, docs)
		if err != nil {
			return err
		}
		result.RowsInserted = inserted
		result.Upload.RowCount = inserted
	}

	return ing.repo.SaveSchemaRecord(ctx, existing)
}

func (ing *Ingestor) loadTables(ctx context.Context, schema *crate.RelationalSchema, docs []any) (int, error) {
	if err := ing.repo.EnsureTables(ctx, schema); err != nil {
		return 0, err
	}
	return ing.loadRows(ctx, schema, docs)
}

func (ing *Ingestor) loadRows(ctx context.Context, schema *crate.RelationalSchema, docs []any) (int, error) {
	inserted, err := ing.repo.InsertRows(ctx, schema, docs)
	if err != nil {
		return 0, err
	}
	EmitRowsInserted(ctx, schema.RootTable().Name, int64(inserted))
	return inserted, nil
}

// mirrorUpload feeds the analytics mirror, shedding it via the breaker when
// it keeps failing. Analytics is best-effort and never fails an upload.
func (ing *Ingestor) mirrorUpload(ctx context.Context, record *crate.UploadRecord) {
	if ing.analytics == nil || ing.breaker.IsOpen() {
		return
	}
	if err := ing.analytics.RecordUpload(ctx, record); err != nil {
		ing.breaker.RecordFailure()
		zap.S().Warnw("analytics mirror rejected upload", "upload_id", record.ID, "error", err)
		return
	}
	ing.breaker.RecordSuccess()
}

// Classify runs the pure pipeline against a payload without persisting
// anything: the dry-run endpoint.
func (ing *Ingestor) Classify(fileName string, data []byte) (*crate.IngestResult, error) {
	docs, err := crate.ParsePayload(data)
	if err != nil {
		return nil, err
	}
	profile := crate.Analyze(docs)
	decision := crate.Decide(profile, docs)
	result := &crate.IngestResult{Decision: &decision}
	if decision.Kind == crate.StorageKindSQL {
		result.Schema = crate.Derive(profile, docs, FileIdentity(fileName))
	}
	return result, nil
}

// GetUpload fetches one upload record.
func (ing *Ingestor) GetUpload(ctx context.Context, id uuid.UUID) (*crate.UploadRecord, error) {
	return ing.repo.GetUpload(ctx, id)
}

// ListUploads pages through upload records.
func (ing *Ingestor) ListUploads(ctx context.Context, req crate.ListRequest) (*crate.ListResult, error) {
	return ing.repo.ListUploads(ctx, req)
}

// DeleteUpload removes an upload and everything derived from it: the raw
// object, its documents, and, when this upload owns the current schema
// record, the derived tables and the record itself.
func (ing *Ingestor) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	record, err := ing.repo.GetUpload(ctx, id)
	if err != nil {
		return err
	}

	if ing.objects != nil && record.ObjectKey != "" {
		if err := ing.objects.Delete(ctx, record.ObjectKey); err != nil && !crate.IsNotFoundError(err) {
			return err
		}
	}
	if err := ing.repo.DeleteDocuments(ctx, id); err != nil {
		return err
	}

	identity := FileIdentity(record.FileName)
	lock := ing.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	schemaRecord, err := ing.repo.GetSchemaRecord(ctx, identity)
	if err == nil && schemaRecord.TableName != "" && schemaRecord.TableName == record.TableName {
		if schemaRecord.Schema != nil {
			if err := ing.repo.DropTables(ctx, schemaRecord.Schema); err != nil {
				return err
			}
		}
		if err := ing.repo.DeleteSchemaRecord(ctx, identity); err != nil {
			return err
		}
	} else if err != nil && !crate.IsNotFoundError(err) {
		return err
	}

	return ing.repo.DeleteUpload(ctx, id)
}

// Resolve re-runs conflict resolution for a stored upload with an explicit
// action, reading the original bytes back from the object store.
func (ing *Ingestor) Resolve(ctx context.Context, req *crate.ResolveRequest) (*crate.IngestResult, error) {
	if ing.objects == nil {
		return nil, crate.NewCrateError(crate.ErrorTypeValidation, crate.ErrCodeUnsupportedPayload,
			"conflict replay requires the object store to be enabled")
	}
	record, err := ing.repo.GetUpload(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	data, err := ing.objects.Get(ctx, record.ObjectKey)
	if err != nil {
		return nil, err
	}
	return ing.Ingest(ctx, &crate.IngestRequest{
		FileName:    record.FileName,
		ContentType: record.ContentType,
		Data:        data,
		OnConflict:  req.Action,
	})
}

// SetStatsFallback registers the aggregate source used when the analytics
// mirror is disabled or shedding.
func (ing *Ingestor) SetStatsFallback(fn func(ctx context.Context) (*crate.DashboardStats, error)) {
	ing.fallbackStats = fn
}

// Stats serves the dashboard aggregates, preferring the analytics mirror and
// falling back to PostgreSQL when the mirror is unavailable.
func (ing *Ingestor) Stats(ctx context.Context) (*crate.DashboardStats, error) {
	if ing.analytics != nil && !ing.breaker.IsOpen() {
		stats, err := ing.analytics.Stats(ctx)
		if err == nil {
			ing.breaker.RecordSuccess()
			return stats, nil
		}
		ing.breaker.RecordFailure()
		zap.S().Warnw("analytics mirror stats failed, falling back", "error", err)
	}
	if ing.fallbackStats == nil {
		return nil, crate.NewInternalError("no stats provider available", nil)
	}
	return ing.fallbackStats(ctx)
}
