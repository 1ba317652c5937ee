package factory

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filecrate/crate"
	"github.com/filecrate/crate/internal"
)

// queryPool is the minimal pool surface needed to inspect the database.
type queryPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// tableCollector lists the base tables visible in the database. Replaceable
// for unit tests.
var tableCollector = collectTablesFromPool

// NewIngestorWithConfig creates a fully wired Ingestor against an existing
// database pool. This is the primary way for external projects to embed the
// upload pipeline.
//
// The metadata tables must already exist (run crate-tools init-db or
// PostgresRepository.InitMetaTables). The object store and analytics mirror
// are optional and follow the config flags.
//
// Usage:
//
//	import (
//	    "github.com/filecrate/crate"
//	    "github.com/filecrate/crate/factory"
//	)
//
//	cfg := crate.DefaultConfig()
//	ing, err := factory.NewIngestorWithConfig(ctx, cfg, pool)
//	if err != nil {
//	    // handle error
//	}
func NewIngestorWithConfig(ctx context.Context, cfg *crate.Config, pool *pgxpool.Pool) (*internal.Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	existing, err := tableCollector(ctx, pool)
	if err != nil {
		return nil, err
	}
	for _, required := range []string{cfg.Tables.Uploads, cfg.Tables.SchemaRecords, cfg.Tables.Documents} {
		if !slices.Contains(existing, required) {
			return nil, crate.NewCrateError(crate.ErrorTypeStorage, crate.ErrCodeTableCreation,
				"required metadata table is missing, run init-db first").
				WithDetail("table", required)
		}
	}

	repo := internal.NewPostgresRepository(pool, cfg.Tables, cfg.Ingest.InsertBatchSize)

	var objects crate.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err := internal.NewS3ObjectStore(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, err
		}
		objects = store
	}

	var analytics crate.StatsProvider
	if cfg.Analytics.Enabled {
		mirror, err := internal.NewAnalyticsMirror(cfg.Analytics)
		if err != nil {
			return nil, err
		}
		analytics = mirror
	}

	ing := internal.NewIngestor(repo, objects, analytics, cfg)
	ing.SetStatsFallback(repo.Stats)
	return ing, nil
}

// collectTablesFromPool lists the public base tables so a misconfigured
// deployment fails at startup instead of on the first upload.
func collectTablesFromPool(ctx context.Context, pool queryPool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE';`)
	if err != nil {
		return nil, crate.NewConnectionError("failed to verify database connection", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, crate.NewQueryExecutionError("failed to scan table name", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, crate.NewQueryExecutionError("error iterating tables", err)
	}
	return tables, nil
}
