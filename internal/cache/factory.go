package cache

import (
	"strings"
	"time"

	"github.com/kyleking/askmetrics/internal/config"
	"github.com/kyleking/askmetrics/internal/errors"
)

// New builds the answer cache backend named by the configuration.
func New(cfg config.CacheConfig) (Cache, error) {
	ttl := time.Duration(cfg.TTLHours) * time.Hour

	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemoryCache(cfg.MaxSizeMB, ttl, cfg.CleanupFreqDuration()), nil
	case "file":
		fc, err := NewFileCache(cfg.Directory, cfg.MaxSizeMB, ttl, cfg.CleanupFreqDuration())
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeCache, "failed to open file cache")
		}

		return fc, nil
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "unknown cache backend: %s", cfg.Backend)
	}
}
