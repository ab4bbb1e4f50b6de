package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/tryrack/tryon/internal/config"
)

// Uploader is the durable object storage interface. Put is idempotent per
// key: re-uploading the same key overwrites with identical content.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// S3Uploader implements Uploader against S3 (or an S3-compatible endpoint).
type S3Uploader struct {
	client *awss3.S3
	bucket string
	region string
	// endpoint overrides the public URL base when targeting a non-AWS store.
	endpoint string
}

func NewS3Uploader(cfg config.S3Config) (*S3Uploader, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("new aws session: %w", err)
	}

	return &S3Uploader{
		client:   awss3.New(sess),
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		endpoint: cfg.Endpoint,
	}, nil
}

// Put uploads data under key and returns the public URL of the object.
func (u *S3Uploader) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	_, err := u.client.PutObjectWithContext(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	return u.ObjectURL(key), nil
}

func (u *S3Uploader) Delete(ctx context.Context, key string) error {
	_, err := u.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// ObjectURL returns the public URL for key.
func (u *S3Uploader) ObjectURL(key string) string {
	if u.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(u.endpoint, "/"), u.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}

// Compile-time check that S3Uploader implements Uploader.
var _ Uploader = (*S3Uploader)(nil)
