package storage

import (
	"context"
	"fmt"

	"github.com/bigkaa/sciencerepo/internal/config"
)

// NewFromConfig создаёт хранилище по SR_STORAGE_BACKEND.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return NewMemory(), nil
	case config.StorageFilesystem:
		if cfg.StorageDataDir == "" {
			return nil, fmt.Errorf("хранилище filesystem требует SR_STORAGE_DATA_DIR")
		}
		return NewFileSystem(cfg.StorageDataDir)
	case config.StorageS3:
		return NewS3(ctx, S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("неизвестное хранилище: %s", cfg.StorageBackend)
	}
}
