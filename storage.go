package crate

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ParsePayload decodes an uploaded JSON body into the document set the
// analyzer operates on. A top-level array of objects is unwrapped into one
// document per element; every other top-level value (including an array of
// primitives) is a single document.
func ParsePayload(data []byte) ([]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var root any
	if err := decoder.Decode(&root); err != nil {
		return nil, NewInvalidJSONError("payload is not valid JSON", err)
	}
	if decoder.More() {
		return nil, NewInvalidJSONError("payload contains trailing data after the JSON value", nil)
	}

	if arr, ok := root.([]any); ok && len(arr) > 0 {
		allObjects := true
		for _, item := range arr {
			if _, ok := item.(map[string]any); !ok {
				allObjects = false
				break
			}
		}
		if allObjects {
			return arr, nil
		}
	}
	return []any{root}, nil
}

// UploadStore persists upload metadata records.
type UploadStore interface {
	SaveUpload(ctx context.Context, record *UploadRecord) error
	GetUpload(ctx context.Context, id uuid.UUID) (*UploadRecord, error)
	ListUploads(ctx context.Context, req ListRequest) (*ListResult, error)
	DeleteUpload(ctx context.Context, id uuid.UUID) error
}

// SchemaRecordStore persists the derived-schema artifacts keyed by logical
// file identity.
type SchemaRecordStore interface {
	SaveSchemaRecord(ctx context.Context, record *SchemaRecord) error
	GetSchemaRecord(ctx context.Context, fileIdentity string) (*SchemaRecord, error)
	DeleteSchemaRecord(ctx context.Context, fileIdentity string) error
}

// RowStore executes derived DDL and bulk row inserts against the relational
// side.
type RowStore interface {
	EnsureTables(ctx context.Context, schema *RelationalSchema) error
	InsertRows(ctx context.Context, schema *RelationalSchema, docs []any) (int, error)
	DropTables(ctx context.Context, schema *RelationalSchema) error
	TruncateTables(ctx context.Context, schema *RelationalSchema) error
}

// DocumentStore persists NoSQL payloads as JSON documents grouped by upload.
type DocumentStore interface {
	InsertDocuments(ctx context.Context, uploadID uuid.UUID, docs []any) (int, error)
	DeleteDocuments(ctx context.Context, uploadID uuid.UUID) error
}

// ObjectStore persists the raw uploaded bytes.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) error
}

// StatsProvider serves the dashboard aggregates.
type StatsProvider interface {
	Stats(ctx context.Context) (*DashboardStats, error)
	RecordUpload(ctx context.Context, record *UploadRecord) error
}
