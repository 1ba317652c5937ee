package crate

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType is the semantic type of a JSON value.
type FieldType string

const (
	FieldTypeNull    FieldType = "null"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeNumber  FieldType = "number"
	FieldTypeString  FieldType = "string"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)

// StorageKind selects between relational and document storage.
type StorageKind string

const (
	StorageKindSQL   StorageKind = "sql"
	StorageKindNoSQL StorageKind = "nosql"
	// StorageKindNone marks uploads that never reach classification (non-JSON files).
	StorageKindNone StorageKind = "none"
)

// StructureProfile is the aggregate structural description of one or more
// JSON documents. Invariants: FieldPresence[f] <= SampleSize for all f, and
// UniqueFields == sorted keys of FieldPresence.
type StructureProfile struct {
	UniqueFields     []string               `json:"unique_fields"`
	FieldPresence    map[string]int         `json:"field_presence"`
	FieldTypes       map[string][]FieldType `json:"field_types"`
	HasNestedObjects bool                   `json:"has_nested_objects"`
	HasArrays        bool                   `json:"has_arrays"`
	MaxDepth         int                    `json:"max_depth"`
	SampleSize       int                    `json:"sample_size"`
}

// FieldConsistency returns the fraction of observed fields that are present
// in every sampled document. A profile with no fields is fully consistent.
func (p *StructureProfile) FieldConsistency() float64 {
	if len(p.UniqueFields) == 0 {
		return 1.0
	}
	common := 0
	for _, field := range p.UniqueFields {
		if p.FieldPresence[field] == p.SampleSize {
			common++
		}
	}
	return float64(common) / float64(len(p.UniqueFields))
}

// AverageFieldCount returns the mean number of fields per sampled document.
func (p *StructureProfile) AverageFieldCount() float64 {
	if p.SampleSize == 0 {
		return 0
	}
	total := 0
	for _, count := range p.FieldPresence {
		total += count
	}
	return float64(total) / float64(p.SampleSize)
}

// HasFieldType reports whether the given type was observed for the field.
func (p *StructureProfile) HasFieldType(field string, t FieldType) bool {
	for _, observed := range p.FieldTypes[field] {
		if observed == t {
			return true
		}
	}
	return false
}

// StorageDecision is the outcome of classifying a payload as SQL or NoSQL.
// Decisions are recomputed fresh on every call; they carry no identity.
type StorageDecision struct {
	Kind      StorageKind `json:"kind"`
	Reasoning string      `json:"reasoning"`
}

// SQL type names used in derived schemas.
const (
	SQLTypeSerial    = "SERIAL"
	SQLTypeInteger   = "INTEGER"
	SQLTypeText      = "TEXT"
	SQLTypeNumeric   = "NUMERIC"
	SQLTypeBoolean   = "BOOLEAN"
	SQLTypeJSONB     = "JSONB"
	SQLTypeTimestamp = "TIMESTAMPTZ"
)

// ColumnDef describes a single column of a derived table. SourceField is the
// original document field the column was derived from, before sanitization;
// it is empty for system columns.
type ColumnDef struct {
	Name            string `json:"name"`
	SQLType         string `json:"sql_type"`
	Nullable        bool   `json:"nullable"`
	IsPrimaryKey    bool   `json:"is_primary_key"`
	IsForeignKey    bool   `json:"is_foreign_key"`
	ReferencesTable string `json:"references_table,omitempty"`
	SourceField     string `json:"source_field,omitempty"`
}

// TableDef describes a derived table. A table without ParentTable is the
// root table; every other table carries exactly one foreign key referencing
// its parent's primary key.
type TableDef struct {
	Name        string      `json:"name"`
	Columns     []ColumnDef `json:"columns"`
	ParentTable string      `json:"parent_table,omitempty"`
	// SourceField is the root document field a child table was split from.
	SourceField string `json:"source_field,omitempty"`
}

// PrimaryKey returns the primary key column, if any.
func (t *TableDef) PrimaryKey() *ColumnDef {
	for i := range t.Columns {
		if t.Columns[i].IsPrimaryKey {
			return &t.Columns[i]
		}
	}
	return nil
}

// ForeignKey returns the foreign key column, if any.
func (t *TableDef) ForeignKey() *ColumnDef {
	for i := range t.Columns {
		if t.Columns[i].IsForeignKey {
			return &t.Columns[i]
		}
	}
	return nil
}

// DataColumns returns the columns populated from document fields, excluding
// the primary key, foreign key, and timestamp columns.
func (t *TableDef) DataColumns() []ColumnDef {
	columns := make([]ColumnDef, 0, len(t.Columns))
	for _, col := range t.Columns {
		if col.IsPrimaryKey || col.IsForeignKey {
			continue
		}
		if col.Name == ColumnCreatedAt || col.Name == ColumnUpdatedAt {
			continue
		}
		columns = append(columns, col)
	}
	return columns
}

// System column names present on every derived table. The primary key is
// underscore-prefixed so it can never collide with a sanitized data field.
const (
	ColumnID        = "_id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// RelationalSchema is a root table plus zero or more child tables derived
// from nested object fields.
type RelationalSchema struct {
	Tables []TableDef `json:"tables"`
}

// RootTable returns the table without a parent. Derived schemas always have
// exactly one.
func (s *RelationalSchema) RootTable() *TableDef {
	for i := range s.Tables {
		if s.Tables[i].ParentTable == "" {
			return &s.Tables[i]
		}
	}
	return nil
}

// ChildTables returns all tables that reference the root table.
func (s *RelationalSchema) ChildTables() []TableDef {
	children := make([]TableDef, 0, len(s.Tables))
	for _, t := range s.Tables {
		if t.ParentTable != "" {
			children = append(children, t)
		}
	}
	return children
}

// ColumnTypes returns the root table's data columns as a name -> SQL type
// map, the shape consumed by Compare.
func (s *RelationalSchema) ColumnTypes() map[string]string {
	root := s.RootTable()
	if root == nil {
		return map[string]string{}
	}
	types := make(map[string]string, len(root.Columns))
	for _, col := range root.DataColumns() {
		types[col.Name] = col.SQLType
	}
	return types
}

// Rename rewrites the schema around a new root table name, keeping child
// table names, parent references, and foreign key columns consistent. Used
// by the create_new_version conflict action.
func (s *RelationalSchema) Rename(rootName string) {
	old := s.RootTable()
	if old == nil {
		return
	}
	oldName := old.Name
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.ParentTable == "" {
			t.Name = rootName
			continue
		}
		if t.ParentTable == oldName {
			t.ParentTable = rootName
			t.Name = rootName + strings.TrimPrefix(t.Name, oldName)
			for j := range t.Columns {
				col := &t.Columns[j]
				if col.IsForeignKey && col.ReferencesTable == oldName {
					col.ReferencesTable = rootName
					col.Name = rootName + "_id"
				}
			}
		}
	}
}

// Validate checks the structural invariants of a derived schema: exactly one
// root table, and every child table carrying exactly one foreign key that
// references its declared parent.
func (s *RelationalSchema) Validate() error {
	roots := 0
	byName := make(map[string]*TableDef, len(s.Tables))
	for i := range s.Tables {
		byName[s.Tables[i].Name] = &s.Tables[i]
		if s.Tables[i].ParentTable == "" {
			roots++
		}
	}
	if roots != 1 {
		return NewSchemaInvalidError("schema must have exactly one root table")
	}
	for i := range s.Tables {
		t := &s.Tables[i]
		if t.ParentTable == "" {
			continue
		}
		parent, ok := byName[t.ParentTable]
		if !ok {
			return NewSchemaInvalidError("child table '" + t.Name + "' references unknown parent '" + t.ParentTable + "'")
		}
		fkCount := 0
		for _, col := range t.Columns {
			if col.IsForeignKey {
				fkCount++
				if col.ReferencesTable != parent.Name {
					return NewSchemaInvalidError("foreign key of '" + t.Name + "' does not reference parent table")
				}
			}
		}
		if fkCount != 1 {
			return NewSchemaInvalidError("child table '" + t.Name + "' must have exactly one foreign key")
		}
	}
	return nil
}

// TypeMismatch records a column present in both schemas with differing types.
type TypeMismatch struct {
	Column       string `json:"column"`
	ExistingType string `json:"existing_type"`
	NewType      string `json:"new_type"`
}

// SchemaComparisonResult is the column-level diff between an existing schema
// and an incoming one. Missing/extra are directional: missing columns exist
// only in the stored schema, extra columns only in the incoming one.
type SchemaComparisonResult struct {
	MissingColumns  []string       `json:"missing_columns"`
	ExtraColumns    []string       `json:"extra_columns"`
	MismatchedTypes []TypeMismatch `json:"mismatched_types"`
	IsExactMatch    bool           `json:"is_exact_match"`
}

// ConflictAction is the caller-chosen reaction to re-uploading a file whose
// schema already exists.
type ConflictAction string

const (
	ConflictOverwrite  ConflictAction = "overwrite"
	ConflictAppend     ConflictAction = "append"
	ConflictNewVersion ConflictAction = "create_new_version"
	ConflictReject     ConflictAction = "reject"
)

// ConflictResolution reports whether a conflict action may proceed.
type ConflictResolution struct {
	Action  ConflictAction `json:"action"`
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason"`
}

// FileKind is the coarse classification of an uploaded file, used for the
// dashboard breakdown.
type FileKind string

const (
	FileKindJSON  FileKind = "json"
	FileKindCSV   FileKind = "csv"
	FileKindImage FileKind = "image"
	FileKindText  FileKind = "text"
	FileKindOther FileKind = "other"
)

// UploadRecord is the persisted metadata for one uploaded file.
type UploadRecord struct {
	ID          uuid.UUID   `json:"id"`
	FileName    string      `json:"file_name"`
	FileKind    FileKind    `json:"file_kind"`
	ContentType string      `json:"content_type"`
	SizeBytes   int64       `json:"size_bytes"`
	ObjectKey   string      `json:"object_key"`
	StorageKind StorageKind `json:"storage_kind"`
	Reasoning   string      `json:"reasoning,omitempty"`
	TableName   string      `json:"table_name,omitempty"`
	RowCount    int         `json:"row_count"`
	CreatedAt   int64       `json:"created_at"` // unix milliseconds
	UpdatedAt   int64       `json:"updated_at"`
}

// SchemaRecord is the persisted schema artifact keyed by logical file
// identity. For NoSQL uploads Schema is nil and StorageKind marks the record
// as a document collection.
type SchemaRecord struct {
	FileIdentity string            `json:"file_identity"`
	StorageKind  StorageKind       `json:"storage_kind"`
	TableName    string            `json:"table_name,omitempty"`
	Columns      map[string]string `json:"columns,omitempty"`
	Schema       *RelationalSchema `json:"schema,omitempty"`
	Version      int               `json:"version"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

// IngestRequest carries one uploaded file into the pipeline.
type IngestRequest struct {
	FileName    string         `json:"file_name"`
	ContentType string         `json:"content_type"`
	Data        []byte         `json:"-"`
	OnConflict  ConflictAction `json:"on_conflict,omitempty"`
}

// IngestResult is the outcome of processing one upload.
type IngestResult struct {
	Upload       UploadRecord            `json:"upload"`
	Decision     *StorageDecision        `json:"decision,omitempty"`
	Schema       *RelationalSchema       `json:"schema,omitempty"`
	Comparison   *SchemaComparisonResult `json:"comparison,omitempty"`
	Resolution   *ConflictResolution     `json:"resolution,omitempty"`
	RowsInserted int                     `json:"rows_inserted"`
}

// ListRequest is a paginated upload listing request.
type ListRequest struct {
	Page         int      `json:"page"`
	ItemsPerPage int      `json:"items_per_page"`
	FileKind     FileKind `json:"file_kind,omitempty"`
}

// ListResult is a page of upload records.
type ListResult struct {
	Uploads      []UploadRecord `json:"uploads"`
	TotalRecords int            `json:"total_records"`
	TotalPages   int            `json:"total_pages"`
	CurrentPage  int            `json:"current_page"`
	ItemsPerPage int            `json:"items_per_page"`
}

// ResolveRequest re-runs conflict resolution for a stored upload with an
// explicit action.
type ResolveRequest struct {
	UploadID uuid.UUID      `json:"upload_id"`
	Action   ConflictAction `json:"action"`
}

// DayCount is one bucket of the uploads-over-time chart.
type DayCount struct {
	Day   string `json:"day"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

// DashboardStats aggregates upload metadata for the dashboard charts.
type DashboardStats struct {
	TotalUploads  int64              `json:"total_uploads"`
	TotalBytes    int64              `json:"total_bytes"`
	ByStorageKind map[string]int64   `json:"by_storage_kind"`
	ByFileKind    map[string]int64   `json:"by_file_kind"`
	UploadsPerDay []DayCount         `json:"uploads_per_day"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// TableNames configures the metadata table names used by the persistence
// layer.
type TableNames struct {
	Uploads       string `json:"uploads"`
	SchemaRecords string `json:"schemaRecords"`
	Documents     string `json:"documents"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
