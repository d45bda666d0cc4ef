package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/tendant/artisan-nft/pkg/artisan"
	"github.com/tendant/artisan-nft/pkg/artisan/contentid"
)

// Backend is an S3 implementation of the artisan.ContentStore interface.
// Objects are keyed by content identifier under an optional prefix.
type Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	Prefix          string // Key prefix for stored objects
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Custom endpoint for S3-compatible services (e.g., MinIO)
	UsePathStyle    bool   // Use path-style addressing
	MaxAttempts     int    // Request attempts including retries, 0 for the SDK default

	// Create bucket if it doesn't exist
	CreateBucketIfNotExist bool
}

// New creates a new S3 storage backend
func New(config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			// S3-compatible services commonly reject the newer default checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
		o.UsePathStyle = config.UsePathStyle
		if config.MaxAttempts > 0 {
			o.RetryMaxAttempts = config.MaxAttempts
		}
	})

	backend := &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		prefix:   config.Prefix,
	}

	if config.CreateBucketIfNotExist {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, err
		}
	}

	return backend, nil
}

func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return b.wrap("", "head_bucket", err)
	}

	if _, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}); err != nil {
		return b.wrap("", "create_bucket", err)
	}
	return nil
}

func (b *Backend) key(contentID string) string {
	return b.prefix + contentID
}

// Put uploads content under its derived content identifier. The bytes are
// buffered so the key is known before the upload starts.
func (b *Backend) Put(ctx context.Context, reader io.Reader, params artisan.PutParams) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", &artisan.StorageError{Backend: "s3", Op: "put", Err: err}
	}
	id := contentid.Compute(data)

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(id)),
		Body:   bytes.NewReader(data),
	}
	if params.MimeType != "" {
		input.ContentType = aws.String(params.MimeType)
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return "", b.wrap(id, "put", err)
	}
	return id, nil
}

// Get reads the object stored under contentID
func (b *Backend) Get(ctx context.Context, contentID string) (io.ReadCloser, error) {
	if !contentid.Derived(contentID) {
		return nil, b.wrap(contentID, "get", artisan.ErrNotFound)
	}
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(contentID)),
	})
	if err != nil {
		return nil, b.wrap(contentID, "get", err)
	}
	return result.Body, nil
}

// Stat returns object metadata for contentID
func (b *Backend) Stat(ctx context.Context, contentID string) (*artisan.ContentMeta, error) {
	if !contentid.Derived(contentID) {
		return nil, b.wrap(contentID, "stat", artisan.ErrNotFound)
	}
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(contentID)),
	})
	if err != nil {
		return nil, b.wrap(contentID, "stat", err)
	}

	meta := &artisan.ContentMeta{
		ContentID: contentID,
		Size:      aws.ToInt64(result.ContentLength),
		MimeType:  aws.ToString(result.ContentType),
	}
	if result.LastModified != nil {
		meta.UpdatedAt = *result.LastModified
	}
	return meta, nil
}

// wrap maps an SDK error onto the artisan error classes
func (b *Backend) wrap(contentID, op string, err error) error {
	return &artisan.StorageError{Backend: "s3", ContentID: contentID, Op: op, Err: classify(err)}
}

// Error codes S3 returns for rejected credentials.
var credentialCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
}

func classify(err error) error {
	if errors.Is(err, artisan.ErrNotFound) {
		return err
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", artisan.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if credentialCodes[apiErr.ErrorCode()] {
			return fmt.Errorf("%w: %w", artisan.ErrStorageUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", artisan.ErrStorageUnavailable, err)
	}
	return err
}
