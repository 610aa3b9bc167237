// Package blob selects the artifact store configured for a run.
package blob

import (
	"context"
	"fmt"

	"trawlgrid/internal/blob/core"
	"trawlgrid/internal/config"
	"trawlgrid/internal/infra/blob/fs"
	"trawlgrid/internal/infra/blob/memory"
	"trawlgrid/internal/infra/blob/s3"
)

// Open constructs the core.Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg config.BlobConfig) (core.Store, error) {
	switch cfg.Driver {
	case "", config.BlobDriverFilesystem:
		return fs.New(cfg.FSRoot)
	case config.BlobDriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	case config.BlobDriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
