package crate

import (
	"time"
)

// DatabaseConfig holds PostgreSQL connection settings. When UseDSQLAuth is
// set the password is replaced by a freshly generated IAM auth token at pool
// creation time.
type DatabaseConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	User        string `json:"user"`
	Password    string `json:"-"`
	SSLMode     string `json:"ssl_mode"`
	MaxConns    int32  `json:"max_conns"`
	UseDSQLAuth bool   `json:"use_dsql_auth"`
	AWSRegion   string `json:"aws_region,omitempty"`
}

// ObjectStoreConfig holds S3 settings for raw upload storage.
type ObjectStoreConfig struct {
	Enabled   bool   `json:"enabled"`
	Bucket    string `json:"bucket"`
	KeyPrefix string `json:"key_prefix"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint,omitempty"`
	// Static credentials for non-AWS endpoints (MinIO). Empty means the
	// default AWS credential chain.
	AccessKeyID     string `json:"-"`
	SecretAccessKey string `json:"-"`
	UsePathStyle    bool   `json:"use_path_style"`
}

// AnalyticsConfig holds the embedded DuckDB mirror settings backing the
// dashboard aggregates.
type AnalyticsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"` // empty means in-memory
}

// IngestConfig bounds the upload pipeline.
type IngestConfig struct {
	MaxFileSizeBytes int64         `json:"max_file_size_bytes"`
	InsertBatchSize  int           `json:"insert_batch_size"`
	RequestTimeout   time.Duration `json:"request_timeout"`
}

// Config is the complete service configuration.
type Config struct {
	Database    DatabaseConfig    `json:"database"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	Analytics   AnalyticsConfig   `json:"analytics"`
	Ingest      IngestConfig      `json:"ingest"`
	Tables      TableNames        `json:"tables"`
}

// DefaultConfig returns a configuration with sensible defaults for local
// development.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "crate",
			User:     "postgres",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:   false,
			KeyPrefix: "uploads/",
			Region:    "us-east-1",
		},
		Analytics: AnalyticsConfig{
			Enabled: true,
			Path:    "",
		},
		Ingest: IngestConfig{
			MaxFileSizeBytes: 64 << 20,
			InsertBatchSize:  500,
			RequestTimeout:   30 * time.Second,
		},
		Tables: DefaultTableNames(),
	}
}

// DefaultTableNames returns the metadata table names used unless overridden.
func DefaultTableNames() TableNames {
	return TableNames{
		Uploads:       "crate_uploads",
		SchemaRecords: "crate_schema_records",
		Documents:     "crate_documents",
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return NewValidationError("database.host", "database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return NewValidationError("database.port", "database port must be between 1 and 65535")
	}
	if c.Database.Database == "" {
		return NewValidationError("database.database", "database name is required")
	}
	if c.Database.User == "" {
		return NewValidationError("database.user", "database user is required")
	}
	if c.Database.MaxConns <= 0 {
		return NewValidationError("database.max_conns", "connection pool size must be positive")
	}
	if c.Database.UseDSQLAuth && c.Database.AWSRegion == "" {
		return NewValidationError("database.aws_region", "aws region is required for DSQL auth")
	}
	if c.ObjectStore.Enabled && c.ObjectStore.Bucket == "" {
		return NewValidationError("object_store.bucket", "bucket is required when the object store is enabled")
	}
	if c.Ingest.MaxFileSizeBytes <= 0 {
		return NewValidationError("ingest.max_file_size_bytes", "max file size must be positive")
	}
	if c.Ingest.InsertBatchSize <= 0 {
		return NewValidationError("ingest.insert_batch_size", "insert batch size must be positive")
	}
	if c.Tables.Uploads == "" || c.Tables.SchemaRecords == "" || c.Tables.Documents == "" {
		return NewValidationError("tables", "metadata table names must not be empty")
	}
	return nil
}
