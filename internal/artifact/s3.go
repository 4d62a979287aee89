package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Syncer publishes validated artifacts to an external store.
type Syncer interface {
	Sync(ctx context.Context, localPath, relPath string) error
}

// S3Syncer uploads artifacts under a bucket prefix, preserving the relative
// renders-directory layout so the bucket mirrors the local dataset.
type S3Syncer struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Syncer builds a syncer from the default AWS credential chain.
func NewS3Syncer(ctx context.Context, bucket, prefix, region string) (*S3Syncer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Syncer{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3Syncer) Sync(ctx context.Context, localPath, relPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := path.Join(s.prefix, filepath.ToSlash(relPath))
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".exr":
		return "image/x-exr"
	default:
		return "application/octet-stream"
	}
}
