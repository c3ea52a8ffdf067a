package offlinecache

import (
	"context"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cacheupdate "github.com/always-cache/offline-cache/pkg/cache-update"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
)

type outcome string

const (
	outcomeNetwork outcome = "network"
	outcomeCache   outcome = "cache"
	outcomeOffline outcome = "offline"
)

type result struct {
	snapshot    *serializer.Snapshot
	cacheStatus rfc9211.CacheStatus
	outcome     outcome
	mutationID  string
}

// execute runs the strategy. Every strategy returns a response,
// whatever the network and the partitions did.
func (c *Controller) execute(r *http.Request, body []byte, key string, strategy Strategy, log zerolog.Logger) result {
	switch strategy {
	case StrategyNetworkFirst:
		return c.networkFirst(r, body, key, log)
	case StrategyCacheFirst:
		return c.cacheFirst(r, key, c.partitions.Static, log)
	case StrategyStaleWhileRevalidate:
		return c.staleWhileRevalidate(r, key, log)
	case StrategyNavigation:
		return c.navigation(r, body, key, log)
	default:
		return c.networkFirstOpportunistic(r, body, key, log)
	}
}

func (c *Controller) networkFirst(r *http.Request, body []byte, key string, log zerolog.Logger) result {
	res := result{}
	snap, err := c.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err == nil {
		res.snapshot = snap
		res.outcome = outcomeNetwork
		if cacheupdate.UnsafeRequest(r) {
			res.cacheStatus.Forward(rfc9211.FwdReasonMethod)
			if snap.StatusCode < 400 {
				c.applyUpdates(r, snap, log)
			}
		} else {
			res.cacheStatus.Forward(rfc9211.FwdReasonBypass)
			if cacheable(r, snap) {
				res.cacheStatus.Stored = c.store(c.partitions.Dynamic, key, snap, log)
			}
		}
		return res
	}
	log.Debug().Err(err).Msg("Network failed for API request")

	if cacheupdate.UnsafeRequest(r) {
		if id, err := c.enqueue(r.Context(), r, body); err != nil {
			log.Error().Err(err).Msg("Could not queue mutation for replay")
		} else {
			log.Info().Str("mutation", id).Msg("Queued mutation for replay")
			res.mutationID = id
		}
	} else if cached, _, ok := c.match(key, log, c.partitions.Dynamic); ok {
		return cachedResult(cached, "offline")
	}

	res.snapshot = c.offlineAPIResponse()
	res.outcome = outcomeOffline
	res.cacheStatus.Forward(rfc9211.FwdReasonMiss)
	res.cacheStatus.Detail("offline")
	return res
}

func (c *Controller) cacheFirst(r *http.Request, key, partition string, log zerolog.Logger) result {
	if cached, _, ok := c.match(key, log, c.partitions.Static, c.partitions.Precache); ok {
		return cachedResult(cached, "")
	}
	return c.fetchAndStore(r, key, partition, log)
}

// fetchAndStore handles a cache miss of a cache-first asset.
func (c *Controller) fetchAndStore(r *http.Request, key, partition string, log zerolog.Logger) result {
	res := result{}
	res.cacheStatus.Forward(rfc9211.FwdReasonUriMiss)
	snap, err := c.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Network failed for uncached asset")
		res.snapshot = offlineTextResponse(assetOfflineText)
		res.outcome = outcomeOffline
		res.cacheStatus.Detail("offline")
		return res
	}
	res.snapshot = snap
	res.outcome = outcomeNetwork
	if cacheable(r, snap) {
		res.cacheStatus.Stored = c.store(partition, key, snap, log)
	}
	return res
}

func (c *Controller) staleWhileRevalidate(r *http.Request, key string, log zerolog.Logger) result {
	cached, partition, ok := c.match(key, log, c.partitions.Precache, c.partitions.Static)
	if !ok {
		return c.fetchAndStore(r, key, c.partitions.Precache, log)
	}
	c.revalidate(key, partition, r.URL.RequestURI(), r.Header.Clone(), log)
	return cachedResult(cached, "revalidating")
}

// revalidate refreshes the entry in the background.
// Concurrent revalidations of the same key share one origin request.
func (c *Controller) revalidate(key, partition, uri string, header http.Header, log zerolog.Logger) {
	c.waitUntil(func() {
		c.revalidations.Do(key, func() (interface{}, error) {
			snap, err := c.fetch(c.ctx, http.MethodGet, uri, header, nil)
			if err != nil {
				log.Debug().Err(err).Msg("Revalidation failed")
				return nil, nil
			}
			if snap.StatusCode == http.StatusOK {
				c.store(partition, key, snap, log)
			} else {
				log.Debug().Int("status", snap.StatusCode).Msg("Revalidation returned non-cacheable status")
			}
			return nil, nil
		})
	})
}

func (c *Controller) navigation(r *http.Request, body []byte, key string, log zerolog.Logger) result {
	res := result{}
	snap, err := c.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err == nil {
		res.snapshot = snap
		res.outcome = outcomeNetwork
		res.cacheStatus.Forward(rfc9211.FwdReasonBypass)
		if c.cacheNavigations && cacheable(r, snap) {
			res.cacheStatus.Stored = c.store(c.partitions.Pages, key, snap, log)
		}
		return res
	}
	log.Debug().Err(err).Msg("Network failed for navigation")

	if cached, _, ok := c.match(key, log, c.partitions.Pages); ok {
		return cachedResult(cached, "offline")
	}
	for _, shell := range []string{"/", "/index.html"} {
		if cached, _, ok := c.match(c.keyer.GetKeyForPath(shell), log, c.partitions.Static); ok {
			log.Debug().Str("shell", shell).Msg("Serving application shell")
			return cachedResult(cached, "offline")
		}
	}

	res.snapshot = offlineTextResponse(appOfflineText)
	res.outcome = outcomeOffline
	res.cacheStatus.Forward(rfc9211.FwdReasonMiss)
	res.cacheStatus.Detail("offline")
	return res
}

func (c *Controller) networkFirstOpportunistic(r *http.Request, body []byte, key string, log zerolog.Logger) result {
	res := result{}
	snap, err := c.fetch(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err == nil {
		res.snapshot = snap
		res.outcome = outcomeNetwork
		res.cacheStatus.Forward(rfc9211.FwdReasonBypass)
		if cacheable(r, snap) {
			// write in the background, do not slow down the response
			stored := snap.Clone()
			c.waitUntil(func() { c.store(c.partitions.Dynamic, key, stored, log) })
		}
		return res
	}
	log.Debug().Err(err).Msg("Network failed")

	if cached, _, ok := c.match(key, log, c.partitions.AllowList()...); ok {
		return cachedResult(cached, "offline")
	}
	res.snapshot = offlineTextResponse(resourceOfflineText)
	res.outcome = outcomeOffline
	res.cacheStatus.Forward(rfc9211.FwdReasonMiss)
	res.cacheStatus.Detail("offline")
	return res
}

func cachedResult(snap *serializer.Snapshot, detail string) result {
	res := result{snapshot: snap, outcome: outcomeCache}
	res.cacheStatus.Hit()
	res.cacheStatus.Detail(detail)
	return res
}

// cacheable reports whether the response may be written to a partition.
// Only complete responses to GET requests are kept.
func cacheable(r *http.Request, snap *serializer.Snapshot) bool {
	return r.Method == http.MethodGet && snap.StatusCode == http.StatusOK
}

// store writes the response to the partition.
// Failures are logged and reported as not stored.
func (c *Controller) store(partition, key string, snap *serializer.Snapshot, log zerolog.Logger) bool {
	stored := snap.Clone()
	stored.StoredAt = time.Now()
	b, err := stored.ToBytes()
	if err == nil {
		err = c.cache.Put(partition, cache.CacheEntry{
			Key:      key,
			StoredAt: stored.StoredAt,
			Bytes:    b,
		})
	}
	c.metrics.RecordCacheWrite(partition, err)
	if err != nil {
		log.Error().Err(err).Str("partition", partition).Msg("Could not write to cache")
		return false
	}
	log.Trace().Str("partition", partition).Msg("Wrote to cache")
	return true
}

// match returns the first entry for the key in the given partitions.
// Read failures are logged and treated as misses.
func (c *Controller) match(key string, log zerolog.Logger, partitions ...string) (*serializer.Snapshot, string, bool) {
	for _, partition := range partitions {
		entry, ok, err := c.cache.Get(partition, key)
		if err != nil {
			log.Error().Err(err).Str("partition", partition).Msg("Could not read from cache")
			continue
		}
		if !ok {
			continue
		}
		snap, err := serializer.FromBytes(entry.Bytes)
		if err != nil {
			log.Error().Err(err).Str("partition", partition).Msg("Could not parse cached response")
			continue
		}
		log.Trace().Str("partition", partition).Msg("Found cached response")
		return snap, partition, true
	}
	return nil, "", false
}

// enqueue stores the failed mutation and registers the sync tag.
func (c *Controller) enqueue(ctx context.Context, r *http.Request, body []byte) (string, error) {
	m := newMutation(r, body)
	if err := c.queue.Enqueue(ctx, m); err != nil {
		return "", err
	}
	c.registerSync(c.sync.Tag)
	c.updateQueueDepth(ctx)
	return m.ID, nil
}
