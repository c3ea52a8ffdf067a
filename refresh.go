package offlinecache

import (
	"context"
	"net/http"
	"strings"
	"time"

	cacheupdate "github.com/always-cache/offline-cache/pkg/cache-update"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// applyUpdates refreshes the dynamic entries affected by a successful mutation:
// the ones named in Cache-Update headers and the mutated resource's collection.
func (c *Controller) applyUpdates(req *http.Request, snap *serializer.Snapshot, log zerolog.Logger) {
	updates := cacheupdate.GetCacheUpdates(req, snap.Response(req), c.collections(req.URL.Path))
	for _, update := range updates {
		log.Trace().Str("update", update.Path).Msg("Updating cache based on mutation")
		path := update.Path
		if update.Delay > 0 {
			c.waitUntil(func() {
				select {
				case <-time.After(update.Delay):
					c.refresh(c.ctx, path, log)
				case <-c.ctx.Done():
				}
			})
		} else {
			c.refresh(c.ctx, path, log)
		}
	}
}

// collections returns the collections a resource path may belong to:
// the known endpoints, and the first path segment below the API prefix.
func (c *Controller) collections(p string) []string {
	collections := append([]string(nil), c.routes.Endpoints...)
	prefix := c.routes.APIPrefix
	if prefix != "" && strings.HasPrefix(p, prefix) {
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			collections = append(collections, strings.TrimSuffix(prefix, "/")+"/"+rest)
		}
	}
	return collections
}

// refresh re-fetches the path into the dynamic partition.
// Only entries that are already cached get refreshed.
// It is assumed that the cache key equals the request URL.
func (c *Controller) refresh(ctx context.Context, path string, log zerolog.Logger) {
	key := c.keyer.GetKeyForPath(path)
	if _, ok, err := c.cache.Get(c.partitions.Dynamic, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not read cache entry for refresh")
		return
	} else if !ok {
		log.Trace().Str("key", key).Msg("Not cached, skipping refresh")
		return
	}

	req, err := c.keyer.GetRequestFromKey(key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not create request for refresh")
		return
	}
	snap, err := c.fetchPath(ctx, req.URL.RequestURI())
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Could not refresh cache entry")
		return
	}
	if !cacheable(req, snap) {
		// the resource is gone or broken, a stale copy would only mislead
		log.Debug().Int("status", snap.StatusCode).Str("key", key).Msg("Purging cache entry")
		if err := c.cache.Purge(c.partitions.Dynamic, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Could not purge cache entry")
		}
		return
	}
	c.store(c.partitions.Dynamic, key, snap, log)
}
