package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/devlink-io/devlink/pkg/log"
	"github.com/devlink-io/devlink/pkg/options"
)

type minioProvider struct {
	client *minio.Client
	bucket string
}

// NewMinIOProvider mirrors firmware blobs to an S3-compatible bucket.
func NewMinIOProvider(opts *options.S3Options) (Provider, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &minioProvider{
		client: client,
		bucket: opts.BucketName,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func EnsureBucket(ctx context.Context, p Provider) error {
	mp, ok := p.(*minioProvider)
	if !ok {
		return nil
	}

	exists, err := mp.client.BucketExists(ctx, mp.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", mp.bucket)
		if err := mp.client.MakeBucket(ctx, mp.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (p *minioProvider) Save(ctx context.Context, key string, data []byte) error {
	_, err := p.client.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

func (p *minioProvider) DeletePrefix(ctx context.Context, prefix string) error {
	objects := p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    prefix + "/",
		Recursive: true,
	})

	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list objects under %q: %w", prefix, obj.Err)
		}
		if err := p.client.RemoveObject(ctx, p.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove object %q: %w", obj.Key, err)
		}
	}

	return nil
}
