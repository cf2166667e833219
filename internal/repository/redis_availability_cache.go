package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/internal/domain"
	"github.com/prohmpiriya/ticket-reservation-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-reservation-engine/pkg/redis"
	"go.uber.org/zap"
)

const availabilityKeyPrefix = "availability:"

// unitAvailability is the cached document of one unit
type unitAvailability struct {
	Unit     *domain.Availability           `json:"unit,omitempty"`
	Sections map[string]domain.Availability `json:"sections,omitempty"`
}

// RedisAvailabilityCache caches public availability reads per unit.
// Errors are logged and treated as a miss.
type RedisAvailabilityCache struct {
	client *pkgredis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisAvailabilityCache creates a cache with the given TTL
func NewRedisAvailabilityCache(client *pkgredis.Client, ttl time.Duration) *RedisAvailabilityCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &RedisAvailabilityCache{client: client, ttl: ttl, log: logger.Get()}
}

func availabilityKey(unitID string) string {
	return fmt.Sprintf("%s%s", availabilityKeyPrefix, unitID)
}

func (c *RedisAvailabilityCache) load(ctx context.Context, unitID string) (*unitAvailability, error) {
	var doc unitAvailability
	if err := c.client.GetJSON(ctx, availabilityKey(unitID), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Get returns the cached availability of a unit, or of a section when sectionID is set
func (c *RedisAvailabilityCache) Get(ctx context.Context, unitID, sectionID string) (*domain.Availability, bool) {
	doc, err := c.load(ctx, unitID)
	if err != nil {
		if !errors.Is(err, pkgredis.ErrCacheMiss) {
			c.log.Warn("availability cache read failed", zap.String("unit_id", unitID), zap.Error(err))
		}
		return nil, false
	}
	if sectionID == "" {
		return doc.Unit, doc.Unit != nil
	}
	a, ok := doc.Sections[sectionID]
	if !ok {
		return nil, false
	}
	return &a, true
}

// Set stores an availability reading
func (c *RedisAvailabilityCache) Set(ctx context.Context, a domain.Availability) {
	doc, err := c.load(ctx, a.UnitID)
	if err != nil {
		doc = &unitAvailability{}
	}
	if a.SectionID == "" {
		doc.Unit = &a
	} else {
		if doc.Sections == nil {
			doc.Sections = map[string]domain.Availability{}
		}
		doc.Sections[a.SectionID] = a
	}
	if err := c.client.SetJSON(ctx, availabilityKey(a.UnitID), doc, c.ttl); err != nil {
		c.log.Warn("availability cache write failed", zap.String("unit_id", a.UnitID), zap.Error(err))
	}
}

// Invalidate drops the cached documents of the given units
func (c *RedisAvailabilityCache) Invalidate(ctx context.Context, unitIDs ...string) {
	if len(unitIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(unitIDs))
	for _, id := range unitIDs {
		keys = append(keys, availabilityKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("availability cache invalidation failed", zap.Strings("unit_ids", unitIDs), zap.Error(err))
	}
}

// NoopAvailabilityCache never caches
type NoopAvailabilityCache struct{}

func (NoopAvailabilityCache) Get(context.Context, string, string) (*domain.Availability, bool) {
	return nil, false
}

func (NoopAvailabilityCache) Set(context.Context, domain.Availability) {}

func (NoopAvailabilityCache) Invalidate(context.Context, ...string) {}
