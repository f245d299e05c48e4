package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	bucketAttempts   = 5
	bucketRetryDelay = 3 * time.Second
)

// S3Options configures an S3 store. Endpoint is the full base URL of an
// S3-compatible service such as MinIO; addressing is always path style.
type S3Options struct {
	Endpoint   string
	Region     string
	AccessKey  string
	SecretKey  string
	Bucket     string
	// HTTPClient should be an awshttp.BuildableClient when AWS_CA_BUNDLE
	// may be set, since the SDK installs the bundle through it.
	HTTPClient aws.HTTPClient
}

// S3 stores objects in a single bucket.
type S3 struct {
	client     *s3.Client
	bucket     string
	log        *zap.Logger
	retryDelay time.Duration
}

// NewS3 builds the client. It performs no network calls; use EnsureBucket
// at startup to verify connectivity.
func NewS3(ctx context.Context, opts S3Options, log *zap.Logger) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("objectstore: bucket name is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if log == nil {
		log = zap.NewNop()
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3{client: client, bucket: opts.Bucket, log: log, retryDelay: bucketRetryDelay}, nil
}

// EnsureBucket creates the bucket when it does not exist. Connection
// failures are retried a few times since the store often starts alongside
// the API.
func (s *S3) EnsureBucket(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= bucketAttempts; attempt++ {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if err == nil {
			s.log.Info("bucket ready", zap.String("bucket", s.bucket))
			return nil
		}
		if isNotFound(err) {
			if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
				return fmt.Errorf("objectstore: create bucket %q: %w", s.bucket, err)
			}
			s.log.Info("bucket created", zap.String("bucket", s.bucket))
			return nil
		}
		lastErr = err
		s.log.Warn("object store not reachable",
			zap.Int("attempt", attempt), zap.Int("maxAttempts", bucketAttempts), zap.Error(err))
		if attempt == bucketAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
	return fmt.Errorf("objectstore: bucket %q unavailable after %d attempts: %w", s.bucket, bucketAttempts, lastErr)
}

func (s *S3) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (s *S3) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	if errors.As(err, &nf) || errors.As(err, &nsk) || errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
