package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/pkg/util"
)

// DisplayCacher is the subset of the Redis wrapper the directory uses for
// cross-process display caching.
type DisplayCacher interface {
	CacheGet(ctx context.Context, key string) (string, bool, error)
	CacheSet(ctx context.Context, key, value string, ttl time.Duration) error
}

// DirectoryService resolves uids onto display identities. Lookups go through
// an in-process map first, then Redis, then the user store; resolutions last
// for the cache TTL since usernames change rarely.
type DirectoryService struct {
	users  repository.UserRepository
	cache  DisplayCacher
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	local map[string]string
}

// NewDirectoryService constructs the directory.
func NewDirectoryService(users repository.UserRepository, cache DisplayCacher, ttl time.Duration, logger *zap.Logger) *DirectoryService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{
		users:  users,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]string),
	}
}

func displayCacheKey(uid string) string {
	return fmt.Sprintf("display:%s", uid)
}

// ResolveDisplay returns the "@username (CustomUID)" identity for a uid, or
// an empty string when the uid is unknown.
func (d *DirectoryService) ResolveDisplay(ctx context.Context, uid string) string {
	if uid == "" {
		return ""
	}

	d.mu.RLock()
	display, ok := d.local[uid]
	d.mu.RUnlock()
	if ok {
		return display
	}

	if d.cache != nil {
		cached, hit, err := d.cache.CacheGet(ctx, displayCacheKey(uid))
		if err != nil {
			d.logger.Debug("display cache read failed", zap.Error(err))
		} else if hit {
			d.remember(uid, cached)
			return cached
		}
	}

	user, err := d.users.GetByID(ctx, uid)
	if err != nil {
		if !util.IsCode(util.MapError(err), "NOT_FOUND") {
			d.logger.Warn("display lookup failed", zap.Error(err), zap.String("uid", uid))
		}
		return ""
	}

	display = user.Display()
	d.remember(uid, display)
	if d.cache != nil {
		if err := d.cache.CacheSet(ctx, displayCacheKey(uid), display, d.ttl); err != nil {
			d.logger.Debug("display cache write failed", zap.Error(err))
		}
	}
	return display
}

func (d *DirectoryService) remember(uid, display string) {
	d.mu.Lock()
	d.local[uid] = display
	d.mu.Unlock()
}

// Resolver adapts the directory to the query engine's resolver shape.
func (d *DirectoryService) Resolver(ctx context.Context) func(uid string) string {
	return func(uid string) string {
		return d.ResolveDisplay(ctx, uid)
	}
}
