package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type displayNameResolver interface {
	ResolveDisplayName(ctx context.Context, identity string) (string, error)
}

const directoryKeyPrefix = "directory:name:"

// CachedDirectory fronts the staff directory with the shared cache. Lookup
// failures are never cached.
type CachedDirectory struct {
	next   displayNameResolver
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedDirectory wraps next with caching.
func NewCachedDirectory(next displayNameResolver, cache *CacheService, ttl time.Duration, logger *zap.Logger) *CachedDirectory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedDirectory{next: next, cache: cache, ttl: ttl, logger: logger}
}

// ResolveDisplayName returns the cached display name or asks the directory.
func (d *CachedDirectory) ResolveDisplayName(ctx context.Context, identity string) (string, error) {
	key := directoryKeyPrefix + identity
	var name string
	if hit, err := d.cache.Get(ctx, key, &name); err == nil && hit {
		return name, nil
	}

	name, err := d.next.ResolveDisplayName(ctx, identity)
	if err != nil {
		return "", err
	}
	if err := d.cache.Set(ctx, key, name, d.ttl); err != nil {
		d.logger.Debug("directory cache fill failed", zap.String("identity", identity), zap.Error(err))
	}
	return name, nil
}

// Invalidate drops cached names, e.g. after a staff change is applied.
func (d *CachedDirectory) Invalidate(ctx context.Context, identities ...string) error {
	keys := make([]string, len(identities))
	for i, id := range identities {
		keys[i] = directoryKeyPrefix + id
	}
	return d.cache.Delete(ctx, keys...)
}
