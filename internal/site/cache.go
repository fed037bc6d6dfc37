package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aak1247/sitetap/internal/backend"
	"github.com/aak1247/sitetap/internal/model"
	"github.com/aak1247/sitetap/internal/obs"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultCacheTTL = 10 * time.Minute

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr is empty")
	}
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}), nil
}

// CachedResolver keeps resolved sites in Redis under both their id and tag
// keys. A site's adapter kind never changes, so entries only expire by TTL.
// Redis failures degrade to the underlying resolver.
type CachedResolver struct {
	next    Resolver
	rdb     *redis.Client
	ttl     time.Duration
	log     logrus.FieldLogger
	metrics *obs.Metrics
}

func NewCachedResolver(next Resolver, rdb *redis.Client, ttl time.Duration, log logrus.FieldLogger, m *obs.Metrics) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachedResolver{next: next, rdb: rdb, ttl: ttl, log: log, metrics: m}
}

func idKey(id int64) string { return fmt.Sprintf("sitetap:site:id:%d", id) }
func tagKey(tag string) string { return "sitetap:site:tag:" + tag }

func refKey(ref backend.SiteRef) string {
	if ref.ID > 0 {
		return idKey(ref.ID)
	}
	return tagKey(ref.TagID)
}

func (c *CachedResolver) Resolve(ctx context.Context, ref backend.SiteRef) (model.Site, error) {
	if err := ref.Validate(); err != nil {
		return model.Site{}, err
	}
	if c.rdb == nil {
		return c.next.Resolve(ctx, ref)
	}

	raw, err := c.rdb.Get(ctx, refKey(ref)).Bytes()
	switch {
	case err == nil:
		var s model.Site
		if jerr := json.Unmarshal(raw, &s); jerr == nil && s.ID > 0 {
			c.metrics.ObserveCacheLookup(true)
			return s, nil
		}
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).Warn("site cache read failed")
	}
	c.metrics.ObserveCacheLookup(false)

	s, err := c.next.Resolve(ctx, ref)
	if err != nil {
		return model.Site{}, err
	}
	c.store(ctx, s)
	return s, nil
}

func (c *CachedResolver) store(ctx context.Context, s model.Site) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, idKey(s.ID), b, c.ttl)
	pipe.Set(ctx, tagKey(s.TagID), b, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("site cache write failed")
	}
}
