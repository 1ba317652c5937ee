package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/filecrate/crate"
	"github.com/filecrate/crate/internal"
)

// Server represents the HTTP server wrapping the upload pipeline.
type Server struct {
	ingestor *internal.Ingestor
	cfg      *crate.Config
	health   func(ctx context.Context) error
	mux      *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(ingestor *internal.Ingestor, cfg *crate.Config, health func(ctx context.Context) error) *Server {
	return &Server{
		ingestor: ingestor,
		cfg:      cfg,
		health:   health,
		mux:      http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/uploads", s.handleUploads)
	s.mux.HandleFunc("/api/v1/uploads/", s.handleUploads)
	s.mux.HandleFunc("/api/v1/classify", s.handleClassify)
	s.mux.HandleFunc("/api/v1/stats", s.handleStats)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

// Start starts the HTTP server on the given port
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	cfg := configFromEnv()
	if err := cfg.Validate(); err != nil {
		sugar.Fatalf("invalid configuration: %v", err)
	}

	pool, err := createDatabasePool(cfg.Database)
	if err != nil {
		sugar.Fatalf("failed to create database pool: %v", err)
	}
	defer pool.Close()

	repo := internal.NewPostgresRepository(pool, cfg.Tables, cfg.Ingest.InsertBatchSize)
	if err := repo.InitMetaTables(context.Background()); err != nil {
		sugar.Fatalf("failed to initialize metadata tables: %v", err)
	}

	var objects crate.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err := internal.NewS3ObjectStore(context.Background(), cfg.ObjectStore)
		if err != nil {
			sugar.Fatalf("failed to create object store: %v", err)
		}
		objects = store
	}

	var analytics crate.StatsProvider
	if cfg.Analytics.Enabled {
		mirror, err := internal.NewAnalyticsMirror(cfg.Analytics)
		if err != nil {
			// The mirror is best-effort; the dashboard falls back to Postgres.
			sugar.Warnf("analytics mirror unavailable, using postgres fallback: %v", err)
		} else {
			defer mirror.Close()
			analytics = mirror
		}
	}

	ingestor := internal.NewIngestor(repo, objects, analytics, cfg)
	ingestor.SetStatsFallback(repo.Stats)

	server := NewServer(ingestor, cfg, repo.Ping)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// configFromEnv builds the service configuration from environment variables,
// starting from the defaults.
func configFromEnv() *crate.Config {
	cfg := crate.DefaultConfig()

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", "")
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNECTIONS", int(cfg.Database.MaxConns)))
	cfg.Database.UseDSQLAuth = getEnv("DB_USE_DSQL_AUTH", "") == "true"
	cfg.Database.AWSRegion = getEnv("AWS_REGION", "")

	cfg.ObjectStore.Enabled = getEnv("S3_ENABLED", "") == "true"
	cfg.ObjectStore.Bucket = getEnv("S3_BUCKET", cfg.ObjectStore.Bucket)
	cfg.ObjectStore.KeyPrefix = getEnv("S3_KEY_PREFIX", cfg.ObjectStore.KeyPrefix)
	cfg.ObjectStore.Region = getEnv("S3_REGION", cfg.ObjectStore.Region)
	cfg.ObjectStore.Endpoint = getEnv("S3_ENDPOINT", "")
	cfg.ObjectStore.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", "")
	cfg.ObjectStore.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", "")
	cfg.ObjectStore.UsePathStyle = getEnv("S3_USE_PATH_STYLE", "") == "true"

	cfg.Analytics.Enabled = getEnv("ANALYTICS_ENABLED", "true") == "true"
	cfg.Analytics.Path = getEnv("ANALYTICS_DB_PATH", "")

	cfg.Ingest.MaxFileSizeBytes = int64(getEnvInt("MAX_FILE_SIZE_BYTES", int(cfg.Ingest.MaxFileSizeBytes)))
	cfg.Ingest.InsertBatchSize = getEnvInt("INSERT_BATCH_SIZE", cfg.Ingest.InsertBatchSize)

	cfg.Tables.Uploads = getEnv("UPLOADS_TABLE", cfg.Tables.Uploads)
	cfg.Tables.SchemaRecords = getEnv("SCHEMA_RECORDS_TABLE", cfg.Tables.SchemaRecords)
	cfg.Tables.Documents = getEnv("DOCUMENTS_TABLE", cfg.Tables.Documents)

	return cfg
}

// createDatabasePool creates a PostgreSQL connection pool from config
func createDatabasePool(dbCfg crate.DatabaseConfig) (*pgxpool.Pool, error) {
	ctx := context.Background()
	connString, err := internal.BuildConnString(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, crate.NewConnectionError("failed to parse connection string", err)
	}
	poolConfig.MaxConns = dbCfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, crate.NewConnectionError("failed to create connection pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, crate.NewConnectionError("failed to ping database", err)
	}

	return pool, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
