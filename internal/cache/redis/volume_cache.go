package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dexguard/internal/domain"
)

const defaultProfileTTL = time.Hour

// VolumeProfileCache implements domain.VolumeProfileCache using JSON-
// serialized volume windows under per-pair keys.
//
// Key schema:
//
//	volume:profile:{FROM/TO} - string value containing JSON
type VolumeProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewVolumeProfileCache creates a VolumeProfileCache backed by the given
// Client. A non-positive ttl falls back to one hour.
func NewVolumeProfileCache(c *Client, ttl time.Duration) *VolumeProfileCache {
	if ttl <= 0 {
		ttl = defaultProfileTTL
	}
	return &VolumeProfileCache{rdb: c.Underlying(), ttl: ttl}
}

func profileKey(pair string) string { return "volume:profile:" + pair }

// GetProfile retrieves the volume profile for a token pair. It returns
// domain.ErrNotFound when no profile is cached.
func (vc *VolumeProfileCache) GetProfile(ctx context.Context, pair string) ([]domain.VolumeWindow, error) {
	data, err := vc.rdb.Get(ctx, profileKey(pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get volume profile %s: %w", pair, err)
	}

	var profile []domain.VolumeWindow
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("redis: unmarshal volume profile %s: %w", pair, err)
	}
	return profile, nil
}

// SetProfile stores the volume profile for a token pair with the configured
// TTL.
func (vc *VolumeProfileCache) SetProfile(ctx context.Context, pair string, profile []domain.VolumeWindow) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("redis: marshal volume profile %s: %w", pair, err)
	}
	if err := vc.rdb.Set(ctx, profileKey(pair), data, vc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set volume profile %s: %w", pair, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.VolumeProfileCache = (*VolumeProfileCache)(nil)
