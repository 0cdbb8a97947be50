package news

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/moverun/internal/domain/market"
)

const defaultRedisPrefix = "moverun:news"

// RedisMirror keeps a copy of the news cache in Redis: one JSON key per
// article plus a sorted set indexed by publishedAt, so a restarted process
// can warm its cache.
type RedisMirror struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisMirror creates a mirror whose keys live for ttl
func NewRedisMirror(client redis.Cmdable, prefix string, ttl time.Duration) *RedisMirror {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisMirror{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (m *RedisMirror) articleKey(id string) string { return m.prefix + ":article:" + id }
func (m *RedisMirror) indexKey() string            { return m.prefix + ":index" }

// Save writes articles and trims index entries older than the ttl
func (m *RedisMirror) Save(ctx context.Context, articles []market.NewsArticle) error {
	if len(articles) == 0 {
		return nil
	}
	pipe := m.client.TxPipeline()
	for _, a := range articles {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal article %s: %w", a.ID, err)
		}
		pipe.Set(ctx, m.articleKey(a.ID), data, m.ttl)
		pipe.ZAdd(ctx, m.indexKey(), redis.Z{Score: float64(a.PublishedAt.Unix()), Member: a.ID})
	}
	if m.ttl > 0 {
		cutoff := m.now().Add(-m.ttl).Unix()
		pipe.ZRemRangeByScore(ctx, m.indexKey(), "-inf", "("+strconv.FormatInt(cutoff, 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis mirror save: %w", err)
	}
	return nil
}

// Load returns mirrored articles published at or after since, oldest first.
// Index entries whose article key expired are skipped.
func (m *RedisMirror) Load(ctx context.Context, since time.Time) ([]market.NewsArticle, error) {
	ids, err := m.client.ZRangeByScore(ctx, m.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mirror index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = m.articleKey(id)
	}
	vals, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mirror load: %w", err)
	}

	out := make([]market.NewsArticle, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var a market.NewsArticle
		if err := json.Unmarshal([]byte(s), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Warm loads mirrored articles into cache without writing them back
func Warm(ctx context.Context, cache *Cache, m *RedisMirror, since time.Time) (int, error) {
	arts, err := m.Load(ctx, since)
	if err != nil {
		return 0, err
	}
	_, stats := cache.merge(ctx, arts, false)
	return stats.Added, nil
}
