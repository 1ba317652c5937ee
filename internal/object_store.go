package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/filecrate/crate"
)

// S3ObjectStore keeps the raw uploaded bytes in an S3 bucket (or any
// S3-compatible endpoint such as MinIO).
type S3ObjectStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	endpoint string
}

// NewS3ObjectStore builds an object store from configuration. Static
// credentials override the default AWS credential chain; a custom endpoint
// switches on path-style addressing for MinIO-style deployments.
func NewS3ObjectStore(ctx context.Context, cfg crate.ObjectStoreConfig) (*S3ObjectStore, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, crate.NewConnectionError("failed to load aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3ObjectStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		endpoint: cfg.Endpoint,
	}, nil
}

func (s *S3ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return crate.NewStorageError("s3 upload failed", err).WithDetail("object_key", key)
	}
	return nil
}

func (s *S3ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundAPIError(err) {
			return nil, crate.NewObjectNotFoundError(key)
		}
		return nil, crate.NewStorageError("s3 fetch failed", err).WithDetail("object_key", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, crate.NewStorageError("s3 read failed", err).WithDetail("object_key", key)
	}
	return data, nil
}

func (s *S3ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return crate.NewStorageError("s3 delete failed", err).WithDetail("object_key", key)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable via HeadBucket, falling back
// to a plain HTTP ping for endpoints that reject anonymous metadata calls.
func (s *S3ObjectStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		// Auth errors still prove DNS and TLS work.
		switch apiErr.ErrorCode() {
		case "Forbidden", "AccessDenied", "401", "403":
			return nil
		}
	}

	if s.endpoint != "" {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodHead, s.endpoint, nil)
		if reqErr == nil {
			if resp, doErr := http.DefaultClient.Do(req); doErr == nil {
				resp.Body.Close()
				return nil
			}
		}
	}
	return crate.NewConnectionError("s3 bucket unreachable", err).WithDetail("bucket", s.bucket)
}

// isNotFoundAPIError discriminates missing-object responses from other S3
// failures.
func isNotFoundAPIError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
