package offlinecache

import (
	"context"
	"time"
)

// watchConnectivity probes the origin at the configured interval and
// fires the registered syncs whenever the origin becomes reachable again.
func (c *Controller) watchConnectivity(ctx context.Context) {
	c.log.Info().Msgf("Starting connectivity watcher with interval %s", c.sync.ProbeInterval)
	ticker := time.NewTicker(c.sync.ProbeInterval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		reachable := c.probe(ctx)
		if reachable && !online {
			c.log.Info().Msg("Connection restored")
			c.fireSyncs(ctx)
		} else if !reachable && online {
			c.log.Info().Msg("Connection lost")
		}
		online = reachable
	}
}

// probe reports whether the origin answered at all. Any status counts.
func (c *Controller) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.sync.ProbeInterval)
	defer cancel()
	_, err := c.fetchPath(ctx, c.sync.ProbePath)
	if err != nil {
		c.log.Trace().Err(err).Msg("Probe failed")
	}
	return err == nil
}

// fireSyncs runs the sync for every registered tag.
func (c *Controller) fireSyncs(ctx context.Context) {
	for _, tag := range c.SyncTags() {
		if _, err := c.Sync(ctx, tag); err != nil {
			c.log.Error().Err(err).Str("tag", tag).Msg("Sync failed")
		}
	}
}
