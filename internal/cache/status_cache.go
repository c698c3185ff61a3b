// Package cache holds the short-TTL read cache in front of the
// project store. Status polling from the frontend is frequent and
// tolerates a few seconds of staleness; document reads are not free.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

const keyPrefix = "project-status:"

// StatusCache caches project documents for a short TTL. A nil
// *StatusCache is valid and disables caching entirely.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &StatusCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached project, or nil on miss. Cache errors are
// treated as misses.
func (c *StatusCache) Get(ctx context.Context, projectID string) *domain.Project {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, keyPrefix+projectID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("cache: get failed project=%s err=%v", projectID, err)
		}
		return nil
	}
	var p domain.Project
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("cache: corrupt entry project=%s err=%v", projectID, err)
		return nil
	}
	return &p
}

// Set stores the project for the configured TTL, best effort.
func (c *StatusCache) Set(ctx context.Context, p *domain.Project) {
	if c == nil || p == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		log.Printf("cache: marshal failed project=%s err=%v", p.ProjectID, err)
		return
	}
	if err := c.rdb.Set(ctx, keyPrefix+p.ProjectID, raw, c.ttl).Err(); err != nil {
		log.Printf("cache: set failed project=%s err=%v", p.ProjectID, err)
	}
}

// Invalidate drops the cached entry after a write, best effort.
func (c *StatusCache) Invalidate(ctx context.Context, projectID string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, keyPrefix+projectID).Err(); err != nil {
		log.Printf("cache: invalidate failed project=%s err=%v", projectID, err)
	}
}
