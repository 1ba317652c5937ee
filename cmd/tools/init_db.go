package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/filecrate/crate"
	"github.com/filecrate/crate/internal"
)

type initDBOptions struct {
	host          string
	port          int
	database      string
	user          string
	password      string
	sslMode       string
	uploadsTable  string
	schemasTable  string
	docsTable     string
	useDSQLAuth   bool
	awsRegion     string
}

func runInitDB(args []string) error {
	flags := flag.NewFlagSet("init-db", flag.ContinueOnError)
	flags.SetOutput(os.Stdout)
	flags.Usage = func() {
		fmt.Println("Usage: crate-tools init-db [options]")
		fmt.Println("")
		fmt.Println("Options:")
		flags.PrintDefaults()
	}

	opts := initDBOptions{}
	flags.StringVar(&opts.host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.database, "db-name", getenvDefault("DB_NAME", "crate"), "database name")
	flags.StringVar(&opts.user, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.sslMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.StringVar(&opts.uploadsTable, "uploads-table", getenvDefault("UPLOADS_TABLE", "crate_uploads"), "uploads metadata table name")
	flags.StringVar(&opts.schemasTable, "schema-records-table", getenvDefault("SCHEMA_RECORDS_TABLE", "crate_schema_records"), "schema records table name")
	flags.StringVar(&opts.docsTable, "documents-table", getenvDefault("DOCUMENTS_TABLE", "crate_documents"), "document collection table name")
	flags.BoolVar(&opts.useDSQLAuth, "use-dsql-auth", getenvDefault("DB_USE_DSQL_AUTH", "") == "true", "authenticate with an IAM DSQL token instead of a password")
	flags.StringVar(&opts.awsRegion, "aws-region", getenvDefault("AWS_REGION", ""), "aws region for DSQL auth")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	return initDatabase(opts)
}

func initDatabase(opts initDBOptions) error {
	ctx := context.Background()

	dbCfg := crate.DatabaseConfig{
		Host:        opts.host,
		Port:        opts.port,
		Database:    opts.database,
		User:        opts.user,
		Password:    opts.password,
		SSLMode:     opts.sslMode,
		UseDSQLAuth: opts.useDSQLAuth,
		AWSRegion:   opts.awsRegion,
	}
	connString, err := internal.BuildConnString(ctx, dbCfg)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return fmt.Errorf("create connection pool: %w", err)
	}
	defer pool.Close()

	tables := crate.TableNames{
		Uploads:       opts.uploadsTable,
		SchemaRecords: opts.schemasTable,
		Documents:     opts.docsTable,
	}
	repo := internal.NewPostgresRepository(pool, tables, 0)
	if err := repo.InitMetaTables(ctx); err != nil {
		return err
	}

	fmt.Println("Database initialized successfully.")
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
