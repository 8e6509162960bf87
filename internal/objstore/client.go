// Package objstore fetches uploaded recordings from S3-compatible object
// storage into per-job scratch files.
package objstore

import (
	"context"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/meetmind/ingest-worker/pkg/config"
	pkgerrors "github.com/meetmind/ingest-worker/pkg/errors"
	"github.com/meetmind/ingest-worker/pkg/logger"
)

// Client wraps a MinIO S3 client.
type Client struct {
	mc     *minio.Client
	logger *slog.Logger
}

func New(cfg config.StorageConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{
		mc:     mc,
		logger: logger.WithComponent("objstore"),
	}, nil
}

// Ping verifies connectivity to the storage endpoint. The worker has no
// fixed bucket to stat, so listing buckets doubles as the reachability check.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.mc.ListBuckets(ctx)
	return err
}

// Fetch streams the object to destPath without buffering the payload in
// memory. Transport and not-found failures are fatal for the job; the
// queue's own redelivery handles transient outages at the message level.
func (c *Client) Fetch(ctx context.Context, bucket, key, destPath string) error {
	if err := c.mc.FGetObject(ctx, bucket, key, destPath, minio.GetObjectOptions{}); err != nil {
		return pkgerrors.Newf(pkgerrors.ErrFetch, "fetch", "downloading s3://%s/%s: %v", bucket, key, err)
	}
	c.logger.Info("object fetched", "bucket", bucket, "key", key, "dest", destPath)
	return nil
}
