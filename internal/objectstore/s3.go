// Package objectstore provides the S3-backed object store used for fetching
// input images by key and for best-effort uploads of annotated images.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/tphakala/yolo-go/internal/conf"
	"github.com/tphakala/yolo-go/internal/errors"
	"github.com/tphakala/yolo-go/internal/logging"
)

// Client is the object store capability used by the pipeline: fetch a named
// object to a local file and upload a local file under a key.
type Client interface {
	Download(ctx context.Context, key, destPath string) error
	Upload(ctx context.Context, key, srcPath, contentType string) error
}

// S3Client implements Client against an S3 bucket.
type S3Client struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3Client builds the S3 client from the object store settings. Static
// credentials and a custom endpoint are only applied when configured, so
// the default AWS credential chain keeps working in production.
func NewS3Client(settings *conf.Settings) (*S3Client, error) {
	store := settings.ObjectStore

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(store.Region),
	}
	if store.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(store.AccessKeyID, store.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if store.Endpoint != "" {
			o.BaseEndpoint = aws.String(store.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client: client,
		bucket: store.Bucket,
		logger: logging.ForService("objectstore"),
	}, nil
}

// Download fetches an object and writes it to destPath.
func (c *S3Client) Download(ctx context.Context, key, destPath string) error {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.New(fmt.Errorf("failed to download from S3: %w", err)).
			Component("objectstore").
			Category(errors.CategoryImageFetch).
			Context("bucket", c.bucket).
			Context("key", key).
			Build()
	}
	defer out.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("writing object %s to %s: %w", key, destPath, err)
	}

	c.logger.Debug("object downloaded", "key", key, "dest", destPath)
	return nil
}

// Upload stores a local file under the given key.
func (c *S3Client) Upload(ctx context.Context, key, srcPath, contentType string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return errors.New(fmt.Errorf("failed to upload to S3: %w", err)).
			Component("objectstore").
			Category(errors.CategoryObjectStore).
			Context("bucket", c.bucket).
			Context("key", key).
			Build()
	}

	c.logger.Info("object uploaded", "key", key, "size", info.Size())
	return nil
}
