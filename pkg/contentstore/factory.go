package contentstore

import (
	"context"
	"fmt"
	"os"
)

// StoreType selects the content storage backend.
type StoreType string

const (
	StoreTypeFS StoreType = "fs"
	StoreTypeS3 StoreType = "s3"
)

// NewStoreFromEnv creates a content store based on environment variables.
//
// Environment variables:
//   - CONTENT_STORAGE_TYPE: "fs" (default) or "s3"
//   - DATA_DIR: base directory for the filesystem store (default: "data")
//
// For S3:
//   - AWS_REGION or CONTENT_S3_REGION
//   - CONTENT_S3_BUCKET (required)
//   - CONTENT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - CONTENT_S3_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("CONTENT_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(dataDir)
	case StoreTypeS3:
		bucket := os.Getenv("CONTENT_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("CONTENT_S3_BUCKET is required for s3 content storage")
		}
		region := os.Getenv("CONTENT_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("CONTENT_S3_ENDPOINT"),
			Prefix:   os.Getenv("CONTENT_S3_PREFIX"),
		})
	default:
		return nil, fmt.Errorf("unsupported content storage type: %s", storeType)
	}
}
