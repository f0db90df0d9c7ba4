package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
	"github.com/pathwise/pathwise-backend/internal/utils"
)

// MatchCache is the repeat-lookup cache for normalization results, keyed by
// folded raw text plus the optional domain hint. Nil-safe: a nil cache is a
// no-op so normalization works without redis.
type MatchCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewMatchCache(log *logger.Logger) (*MatchCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttlSeconds := utils.GetEnvAsInt("NORMALIZATION_CACHE_TTL", 86400, log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &MatchCache{
		log: log.With("service", "MatchCache"),
		rdb: rdb,
		ttl: time.Duration(ttlSeconds) * time.Second,
	}, nil
}

func cacheKey(folded string, domainHint string) string {
	if domainHint == "" {
		return "skillnorm:" + folded
	}
	return "skillnorm:" + domainHint + ":" + folded
}

func (c *MatchCache) Get(ctx context.Context, folded string, domainHint string) (*types.NormalizedSkillMatch, bool) {
	if c == nil || c.rdb == nil || folded == "" {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(folded, domainHint)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.log.Warn("Cache get failed", "error", err)
		}
		return nil, false
	}
	var match types.NormalizedSkillMatch
	if err := json.Unmarshal(raw, &match); err != nil {
		c.log.Warn("Cache entry unreadable, dropping", "error", err)
		_ = c.rdb.Del(ctx, cacheKey(folded, domainHint)).Err()
		return nil, false
	}
	return &match, true
}

func (c *MatchCache) Put(ctx context.Context, folded string, domainHint string, match *types.NormalizedSkillMatch) {
	if c == nil || c.rdb == nil || folded == "" || match == nil {
		return
	}
	// Low-confidence fallbacks are transient; caching them would pin a bad
	// answer past the semantic service's recovery.
	if match.LowConfidence {
		return
	}
	raw, err := json.Marshal(match)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(folded, domainHint), raw, c.ttl).Err(); err != nil {
		c.log.Warn("Cache put failed", "error", err)
	}
}

func (c *MatchCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
