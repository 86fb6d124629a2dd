// Package mirror copies backup archives off the workstation.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Mirror uploads the backup archive of one job directory.
type Mirror interface {
	Upload(ctx context.Context, dir, archive string) (string, error)
}

// PutObjectAPI is the part of the S3 client the mirror uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror stores archives under s3://<bucket>/<prefix>/<dir>/<archive name>.
type S3Mirror struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Mirror creates a mirror using the default AWS credential chain.
func NewS3Mirror(ctx context.Context, bucket, region, prefix string) (*S3Mirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3MirrorWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3MirrorWithClient creates a mirror around an existing client.
func NewS3MirrorWithClient(client PutObjectAPI, bucket, prefix string) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key for an archive of dir.
func (m *S3Mirror) Key(dir, archive string) string {
	return path.Join(m.prefix, dir, filepath.Base(archive))
}

// Upload implements Mirror and returns the s3:// URL of the object.
func (m *S3Mirror) Upload(ctx context.Context, dir, archive string) (string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}

	key := m.Key(dir, archive)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/gzip"),
		Metadata:      map[string]string{"simwatch-dir": dir},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", archive, err)
	}
	return "s3://" + m.bucket + "/" + key, nil
}
