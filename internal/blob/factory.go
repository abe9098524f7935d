package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a Store.
type Config struct {
	Type      string // "filesystem", "s3" or "memory"
	Dir       string // filesystem root
	PublicURL string // base URL for filesystem and memory stores
	S3        S3Config
}

// NewStoreFromConfig creates the Store named by cfg.Type.
func NewStoreFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(cfg.PublicURL), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem blob store requires BLOB_DIR to be set")
		}
		s, err := NewFileSystemStore(cfg.Dir, cfg.PublicURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "s3":
		s, err := NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
