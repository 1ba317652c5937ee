package internal

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"go.uber.org/zap"

	"github.com/filecrate/crate"
)

// GenerateDSQLAuthToken produces an IAM auth token usable as the password
// for a DSQL-hosted PostgreSQL endpoint. Tokens are short-lived, so this is
// called at pool creation rather than cached.
func GenerateDSQLAuthToken(ctx context.Context, dbCfg crate.DatabaseConfig) (string, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(dbCfg.AWSRegion))
	if err != nil {
		return "", crate.NewConnectionError("failed to load aws config for dsql auth", err)
	}

	endpoint := fmt.Sprintf("%s:%d", dbCfg.Host, dbCfg.Port)
	token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
	if err != nil {
		return "", crate.NewConnectionError("failed to generate dsql auth token", err)
	}
	zap.S().Infow("generated IAM auth token for dsql connection", "host", dbCfg.Host)
	return token, nil
}

// BuildConnString renders the pgx connection string for a database config,
// substituting a DSQL token for the password when IAM auth is enabled.
func BuildConnString(ctx context.Context, dbCfg crate.DatabaseConfig) (string, error) {
	password := dbCfg.Password
	if dbCfg.UseDSQLAuth {
		token, err := GenerateDSQLAuthToken(ctx, dbCfg)
		if err != nil {
			return "", err
		}
		password = token
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbCfg.User, password),
		Host:     fmt.Sprintf("%s:%d", dbCfg.Host, dbCfg.Port),
		Path:     dbCfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(dbCfg.SSLMode),
	}
	return u.String(), nil
}
