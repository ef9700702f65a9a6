package cache

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rpi-tgbot-go/internal/services/ipecho"
	"github.com/sirupsen/logrus"
)

const externalIPKey = "external_ip"

// Recorder counts cache hits and misses
type Recorder interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// IPCache reuses a recently fetched external IP so repeated /ip commands do not hit the
// echo services every time. Failed lookups are never cached.
type IPCache struct {
	source   ipecho.Source
	cache    *cache.Cache
	recorder Recorder
	logger   logrus.FieldLogger
}

// NewIPCache wraps source with a cache whose entries live for ttl
func NewIPCache(source ipecho.Source, ttl time.Duration, recorder Recorder, logger logrus.FieldLogger) *IPCache {
	return &IPCache{
		source:   source,
		cache:    cache.New(ttl, ttl*2),
		recorder: recorder,
		logger:   logger,
	}
}

// Fetch returns the cached IP when fresh, otherwise asks the wrapped source
func (c *IPCache) Fetch(ctx context.Context) (string, bool) {
	if val, found := c.cache.Get(externalIPKey); found {
		if c.recorder != nil {
			c.recorder.RecordCacheHit()
		}
		c.logger.WithField("ip", val).Debug("Cache hit")
		return val.(string), true
	}
	if c.recorder != nil {
		c.recorder.RecordCacheMiss()
	}

	ip, ok := c.source.Fetch(ctx)
	if !ok {
		return "", false
	}

	c.cache.SetDefault(externalIPKey, ip)
	return ip, true
}

// Clear drops the cached IP
func (c *IPCache) Clear() {
	c.cache.Flush()
}
