package bootstrap

import (
	"context"
	"fmt"
	"log"

	gcpbatch "cloud.google.com/go/batch/apiv1"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	"github.com/skylens-geo/photogrammetry-backend/config"
)

// Clients bundles the long-lived external connections the API holds.
type Clients struct {
	Firestore *firestore.Client
	Storage   *gcs.Client
	PubSub    *pubsub.Client
	Batch     *gcpbatch.Client
	Redis     *redis.Client
}

// NewClients dials every collaborator. Redis is optional and skipped
// when no address is configured; everything else is required.
func NewClients(ctx context.Context, cfg *config.Config) (*Clients, error) {
	fs, err := firestore.NewClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}

	st, err := gcs.NewClient(ctx)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("storage client: %w", err)
	}

	ps, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		fs.Close()
		st.Close()
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	bc, err := gcpbatch.NewClient(ctx)
	if err != nil {
		fs.Close()
		st.Close()
		ps.Close()
		return nil, fmt.Errorf("batch client: %w", err)
	}

	c := &Clients{Firestore: fs, Storage: st, PubSub: ps, Batch: bc}

	if cfg.Cache.RedisAddr != "" {
		c.Redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			// The cache is an optimization; run without it.
			log.Printf("redis unreachable at %s, caching disabled: %v", cfg.Cache.RedisAddr, err)
			_ = c.Redis.Close()
			c.Redis = nil
		}
	}

	return c, nil
}

// Close releases every connection, logging rather than failing on
// individual errors.
func (c *Clients) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	if err := c.Batch.Close(); err != nil {
		log.Printf("close batch client: %v", err)
	}
	if err := c.PubSub.Close(); err != nil {
		log.Printf("close pubsub client: %v", err)
	}
	if err := c.Storage.Close(); err != nil {
		log.Printf("close storage client: %v", err)
	}
	if err := c.Firestore.Close(); err != nil {
		log.Printf("close firestore client: %v", err)
	}
}
