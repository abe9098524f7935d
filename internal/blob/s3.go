package blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes the bucket photos are uploaded to.
type S3Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint (MinIO, R2, LocalStack). Path-style
	// addressing is used whenever it is set.
	Endpoint string
	// PublicURL is the base URL objects are readable at. Defaults to the
	// virtual-hosted AWS URL of the bucket.
	PublicURL       string
	AccessKeyID     string
	SecretAccessKey string
}

// uploader is the part of manager.Uploader S3Store needs.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store uploads photos to an S3-compatible bucket. Large photos go up as
// multipart uploads through the SDK's upload manager.
type S3Store struct {
	uploader  uploader
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Store loads AWS configuration (environment, shared config, or the
// static keys in cfg) and builds an uploader for cfg.Bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 store requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, awsCfg.Region)
	}

	return newS3Store(manager.NewUploader(client), cfg.Bucket, cfg.Prefix, publicURL), nil
}

func newS3Store(u uploader, bucket, prefix, publicURL string) *S3Store {
	return &S3Store{uploader: u, bucket: bucket, prefix: prefix, publicURL: publicURL}
}

// Put uploads the photo and returns its public URL.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	objectKey := key
	if s.prefix != "" {
		objectKey = path.Join(s.prefix, key)
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          r,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("blob: uploading s3://%s/%s: %w", s.bucket, objectKey, err)
	}
	return joinURL(s.publicURL, objectKey), nil
}

var _ Store = (*S3Store)(nil)
