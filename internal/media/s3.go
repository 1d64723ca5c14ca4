// internal/media/s3.go
// S3-compatible BlobStore implementation. Works against AWS S3 and
// MinIO-style services via path-style addressing.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/oklog/ulid/v2"
)

// S3Store stores blobs in a single S3 bucket under date-partitioned keys.
type S3Store struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string // Base URL blobs are served from (CDN or the endpoint itself)
	metrics       *metrics.Metrics
}

// NewS3Store creates an S3-backed blob store.
// publicBaseURL is the externally reachable prefix for stored objects; when
// empty, path-style endpoint/bucket URLs are produced.
func NewS3Store(endpoint, region, bucket, accessKey, secretKey, publicBaseURL string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true // Required for MinIO and other S3-compatible services
	})

	if publicBaseURL == "" {
		publicBaseURL = fmt.Sprintf("%s/%s", strings.TrimSuffix(endpoint, "/"), bucket)
	}

	return &S3Store{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		metrics:       metrics.NewMetrics(),
	}, nil
}

// Put uploads data under a fresh date-partitioned key. The filename only
// contributes its extension; key uniqueness comes from a ULID.
func (s *S3Store) Put(ctx context.Context, data []byte, contentType, filename string) (key string, err error) {
	start := time.Now()
	defer func() { observeOp(s.metrics, "blob_put", start, err) }()

	key = objectKey(filename)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	return key, nil
}

// Get downloads a blob by key.
func (s *S3Store) Get(ctx context.Context, key string) (data []byte, contentType string, err error) {
	start := time.Now()
	defer func() { observeOp(s.metrics, "blob_get", start, err) }()

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err = io.ReadAll(result.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object %s: %w", key, err)
	}

	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return data, contentType, nil
}

// PublicURL converts a key into the externally served URL.
func (s *S3Store) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s", s.publicBaseURL, key)
}

// objectKey builds a date-partitioned key from a ULID plus the filename's
// extension, e.g. assets/2026/09/01HXY...jpg.
func objectKey(filename string) string {
	now := time.Now().UTC()
	id := ulid.Make().String()

	ext := ""
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		ext = strings.ToLower(filename[i:])
	}

	return fmt.Sprintf("assets/%04d/%02d/%s%s", now.Year(), int(now.Month()), id, ext)
}
