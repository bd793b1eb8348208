package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for the S3 mirror.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Store wraps Local and mirrors every saved asset to an S3 bucket.
// Assets are still served from local disk; the mirror provides durability
// across host restarts.
type S3Store struct {
	*Local
	client *s3.Client
	bucket string
	region string
}

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// NewS3Store creates a new S3Store with a local media root and an S3 mirror.
func NewS3Store(root string, cfg S3Config) (*S3Store, error) {
	local, err := NewLocal(root)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Store{
		Local:  local,
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Save stores the asset locally, then uploads it to the S3 mirror.
// The local copy is kept either way; an upload failure is returned so the
// caller's retry path can re-deliver (overwrites are idempotent).
func (s *S3Store) Save(ctx context.Context, name string, data io.Reader) (string, error) {
	path, err := s.Local.Save(ctx, name, data)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path) // #nosec G304 - path is derived from the media root
	if err != nil {
		return "", fmt.Errorf("open asset for mirror: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := filepath.Base(path)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("mirror to S3: %w", err)
	}

	return path, nil
}
