// --- File: internal/storage/cache/tokensource.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

// DefaultRefreshSkew is how long before expiry a cached token stops being handed out.
const DefaultRefreshSkew = 5 * time.Minute

// CacheClient defines the subset of cache commands we need.
type CacheClient interface {
	// Get returns ErrCacheMiss (or any error) when the key is not usable.
	Get(ctx context.Context, key string, dest any) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenSource is a Decorator that adds Read-Aside caching to any TokenSource.
type CachedTokenSource struct {
	inner  dispatch.TokenSource
	cache  CacheClient
	key    string
	skew   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedTokenSource creates the decorator. identity scopes the cache key, normally
// the service-account email, so several workers can share one Redis.
func NewCachedTokenSource(inner dispatch.TokenSource, cache CacheClient, identity string, skew time.Duration, logger *slog.Logger) *CachedTokenSource {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	return &CachedTokenSource{
		inner:  inner,
		cache:  cache,
		key:    cacheKey(identity),
		skew:   skew,
		now:    time.Now,
		logger: logger.With("component", "CachedTokenSource"),
	}
}

// AccessToken returns the cached token while it is valid beyond the refresh skew.
// Cache failures are logged and otherwise ignored.
func (s *CachedTokenSource) AccessToken(ctx context.Context) (dispatch.AccessToken, error) {
	var cached dispatch.AccessToken
	err := s.cache.Get(ctx, s.key, &cached)
	if err == nil && cached.Valid(s.now(), s.skew) {
		return cached, nil
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Access token cache read failed", "err", err)
	}

	fresh, err := s.inner.AccessToken(ctx)
	if err != nil {
		return dispatch.AccessToken{}, err
	}

	ttl := fresh.ExpiresAt.Sub(s.now()) - s.skew
	if ttl > 0 {
		if err := s.cache.Set(ctx, s.key, fresh, ttl); err != nil {
			s.logger.Warn("Access token cache write failed", "err", err)
		}
	}
	return fresh, nil
}

// Invalidate drops the cached token so the next call goes to the inner source.
func (s *CachedTokenSource) Invalidate(ctx context.Context) error {
	return s.cache.Del(ctx, s.key)
}

func cacheKey(identity string) string {
	return fmt.Sprintf("push:gateway:access_token:%s", identity)
}
