package blob

import (
	"context"
	"testing"

	"trawlgrid/internal/blob/core"
	"trawlgrid/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  config.BlobConfig
		want core.Driver
	}{
		{config.BlobConfig{FSRoot: t.TempDir()}, core.DriverFilesystem},
		{config.BlobConfig{Driver: config.BlobDriverFilesystem, FSRoot: t.TempDir()}, core.DriverFilesystem},
		{config.BlobConfig{Driver: config.BlobDriverMemory}, core.DriverMemory},
		{config.BlobConfig{Driver: config.BlobDriverS3, S3: config.S3BlobConfig{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "SECRET"}}, core.DriverS3},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %+v: %v", tc.cfg, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("driver = %s, want %s", store.Driver(), tc.want)
		}
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, config.BlobConfig{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, config.BlobConfig{Driver: config.BlobDriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
