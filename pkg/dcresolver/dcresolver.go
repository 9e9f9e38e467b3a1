// Package dcresolver resolves a datacenter id to a dialable address, caching
// the roster in Redis so a restart doesn't need to rediscover every
// datacenter's address from its configured seed list before it can connect.
package dcresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DataCenter is one entry of the roster: an id, its current best-known
// address, and the flags that change how a connection to it behaves.
type DataCenter struct {
	ID        int32  `json:"id"`
	Address   string `json:"address"`
	MediaOnly bool   `json:"media_only"`
	CDN       bool   `json:"cdn"`
}

// ErrNotFound is returned when a datacenter id has no known address, neither
// cached nor in the seed roster.
var ErrNotFound = fmt.Errorf("dcresolver: datacenter not found")

// Resolver answers Resolve(dcID) with a dialable DataCenter, and accepts
// Update when a live connection (e.g. via a config RPC) learns of a roster
// change, so later lookups see it without needing a fresh seed list.
type Resolver interface {
	Resolve(ctx context.Context, dcID int32) (DataCenter, error)
	Roster(ctx context.Context) ([]DataCenter, error)
	Update(ctx context.Context, dcs []DataCenter) error
	Close() error
}

// Config holds the Redis connection settings backing a Resolver.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration // Cache TTL (default: 1 hour)
}

// cacheResolver is a Redis-backed Resolver with an in-process seed fallback:
// any datacenter present in seeds is always resolvable even before the cache
// has ever been populated by a live Update.
type cacheResolver struct {
	client *redis.Client
	ctx    context.Context
	ttl    time.Duration

	mu    sync.RWMutex
	seeds map[int32]DataCenter
}

// NewResolver connects to Redis and seeds the in-process fallback roster
// from seeds, mirroring a config file's datacenter seed list.
func NewResolver(config Config, seeds []DataCenter) (Resolver, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("dcresolver: connect to redis: %w", err)
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = 1 * time.Hour
	}

	seedMap := make(map[int32]DataCenter, len(seeds))
	for _, dc := range seeds {
		seedMap[dc.ID] = dc
	}

	log.Println("dcresolver: redis connection established")
	return &cacheResolver{
		client: client,
		ctx:    ctx,
		ttl:    ttl,
		seeds:  seedMap,
	}, nil
}

func dcKey(id int32) string { return fmt.Sprintf("dc:%d", id) }

const rosterKey = "dc:roster"

// Resolve returns the cached datacenter entry if one exists, falling back to
// the seed roster, and caching the seed entry so later lookups skip Redis's
// miss path.
func (r *cacheResolver) Resolve(ctx context.Context, dcID int32) (DataCenter, error) {
	data, err := r.client.Get(ctx, dcKey(dcID)).Result()
	if err == nil {
		var dc DataCenter
		if jsonErr := json.Unmarshal([]byte(data), &dc); jsonErr == nil {
			return dc, nil
		}
	}

	r.mu.RLock()
	dc, ok := r.seeds[dcID]
	r.mu.RUnlock()
	if !ok {
		return DataCenter{}, ErrNotFound
	}

	if cacheErr := r.cacheOne(ctx, dc); cacheErr != nil {
		log.Printf("dcresolver: cache seed dc %d: %v", dcID, cacheErr)
	}
	return dc, nil
}

// Roster returns every known datacenter: the cached roster snapshot if one
// exists, otherwise the seed list.
func (r *cacheResolver) Roster(ctx context.Context) ([]DataCenter, error) {
	data, err := r.client.Get(ctx, rosterKey).Result()
	if err == nil {
		var dcs []DataCenter
		if jsonErr := json.Unmarshal([]byte(data), &dcs); jsonErr == nil {
			return dcs, nil
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	dcs := make([]DataCenter, 0, len(r.seeds))
	for _, dc := range r.seeds {
		dcs = append(dcs, dc)
	}
	return dcs, nil
}

// Update replaces the cached roster and every individual datacenter entry,
// called after a connection learns a fresher roster from its datacenter.
func (r *cacheResolver) Update(ctx context.Context, dcs []DataCenter) error {
	data, err := json.Marshal(dcs)
	if err != nil {
		return fmt.Errorf("dcresolver: marshal roster: %w", err)
	}
	if err := r.client.Set(ctx, rosterKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("dcresolver: cache roster: %w", err)
	}
	for _, dc := range dcs {
		if err := r.cacheOne(ctx, dc); err != nil {
			return err
		}
	}
	return nil
}

func (r *cacheResolver) cacheOne(ctx context.Context, dc DataCenter) error {
	data, err := json.Marshal(dc)
	if err != nil {
		return fmt.Errorf("dcresolver: marshal dc %d: %w", dc.ID, err)
	}
	return r.client.Set(ctx, dcKey(dc.ID), data, r.ttl).Err()
}

func (r *cacheResolver) Close() error {
	return r.client.Close()
}
