package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lattiam/launchpad/internal/awsutil"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/pkg/logging"
)

const revisionMetadataKey = "revision"

// S3API is the subset of the S3 client used by S3Archive
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ArchiveConfig holds the configuration for S3Archive
type S3ArchiveConfig struct {
	Bucket   string `json:"bucket"`
	Region   string `json:"region"`
	Prefix   string `json:"prefix,omitempty"`
	Endpoint string `json:"endpoint,omitempty"` // For LocalStack or custom endpoints
}

// S3Archive stores bundles under <prefix><fingerprint-hex>/bundle.tar.gz
type S3Archive struct {
	client S3API
	bucket string
	region string
	prefix string
	logger *logging.Logger
}

// NewS3Archive creates an archive and makes sure its bucket exists
func NewS3Archive(ctx context.Context, cfg S3ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	awsCfg, err := awsutil.LoadConfig(ctx, awsutil.Settings{Region: cfg.Region, Endpoint: cfg.Endpoint})
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for LocalStack
		}
	})

	archive := NewS3ArchiveWithClient(client, cfg)
	archive.region = awsCfg.Region
	if err := archive.initializeBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize S3 bucket: %w", err)
	}
	return archive, nil
}

// NewS3ArchiveWithClient creates an archive on an existing client
func NewS3ArchiveWithClient(client S3API, cfg S3ArchiveConfig) *S3Archive {
	return &S3Archive{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
		logger: logging.Stager,
	}
}

func (a *S3Archive) initializeBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var noBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if !errors.As(err, &noBucket) && !errors.As(err, &notFound) && !strings.Contains(err.Error(), "NotFound") {
		return fmt.Errorf("failed to access S3 bucket %s: %w", a.bucket, err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}
	if a.region != "" && a.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(a.region),
		}
	}
	if _, err := a.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create S3 bucket %s: %w", a.bucket, err)
	}
	return nil
}

func (a *S3Archive) objectKey(fingerprint string) string {
	return a.prefix + interfaces.ReleaseName(fingerprint) + "/" + BundleName
}

func (a *S3Archive) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, err
}

// Store uploads the bundle unless an object for the fingerprint already exists
func (a *S3Archive) Store(ctx context.Context, artifact *interfaces.Artifact) error {
	key := a.objectKey(artifact.Fingerprint)
	found, err := a.exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check s3://%s/%s: %w", a.bucket, key, err)
	}
	if found {
		return nil
	}

	file, err := os.Open(artifact.BundlePath)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer func() { _ = file.Close() }()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/gzip"),
		Metadata:    map[string]string{revisionMetadataKey: artifact.Revision},
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Info("Archived %s to s3://%s/%s", artifact.Fingerprint, a.bucket, key)
	return nil
}

// Fetch downloads the bundle for fingerprint to dest and returns its revision
func (a *S3Archive) Fetch(ctx context.Context, fingerprint, dest string) (string, error) {
	key := a.objectKey(fingerprint)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", interfaces.NewError(interfaces.KindNotFound, "artifact %s is not archived", fingerprint)
		}
		return "", fmt.Errorf("download s3://%s/%s: %w", a.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	file, err := os.Create(dest) //nolint:gosec // dest is inside the stager work directory
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(file, out.Body); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}
	return out.Metadata[revisionMetadataKey], nil
}
