package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/always-cache/offline-cache/pkg/duration"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog"
)

const DefaultSyncTag = "sync-tasks"

type SyncConfig struct {
	// Tag of the replay sync. Other tags are ignored.
	Tag string
	// Move a mutation to the dead letters after this many failed replays.
	// Zero means never.
	MaxAttempts int
	// Delay before the first retry, doubled after every failure.
	// Zero means retry on every sync.
	Backoff time.Duration
	// Upper bound of the retry delay. Zero means unbounded.
	MaxBackoff time.Duration
	// Path requested by the connectivity watcher. Defaults to `/`.
	ProbePath string
	// Interval of connectivity probes. Zero disables the watcher.
	ProbeInterval time.Duration
}

func (s SyncConfig) withDefaults() SyncConfig {
	if s.Tag == "" {
		s.Tag = DefaultSyncTag
	}
	if s.ProbePath == "" {
		s.ProbePath = "/"
	}
	return s
}

// SyncReport summarizes one replay cycle.
type SyncReport struct {
	Tag string `json:"tag"`
	// Replayed and accepted by the origin.
	Synced int `json:"synced"`
	// Replayed and answered with a client error. Removed as well.
	Rejected int `json:"rejected"`
	// Replay failed, the mutation stays queued.
	Failed int `json:"failed"`
	// Replay failed for the last allowed time.
	DeadLettered int `json:"deadLettered"`
	// Not yet due because of backoff.
	Skipped int `json:"skipped"`
	// Pending after the cycle.
	Remaining int `json:"remaining"`
}

// Sync replays the queued mutations in the order they were made.
// A failing mutation does not stop the replay of the ones after it.
// Concurrent syncs of the same tag share one replay cycle.
func (c *Controller) Sync(ctx context.Context, tag string) (SyncReport, error) {
	if tag == "" {
		tag = c.sync.Tag
	}
	if tag != c.sync.Tag {
		c.log.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return SyncReport{Tag: tag}, nil
	}
	// the replay is shared, one caller going away must not abort it for the others
	replayCtx := context.WithoutCancel(ctx)
	v, err, _ := c.syncs.Do(tag, func() (interface{}, error) {
		return c.replay(replayCtx, tag)
	})
	report, _ := v.(SyncReport)
	return report, err
}

func (c *Controller) replay(ctx context.Context, tag string) (SyncReport, error) {
	report := SyncReport{Tag: tag}
	entries, err := c.queue.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending mutations: %w", err)
	}
	c.log.Debug().Str("tag", tag).Int("pending", len(entries)).Msg("Replaying mutations")

	now := time.Now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.Due(now) {
			report.Skipped++
			continue
		}
		c.replayEntry(ctx, entry, &report)
	}

	remaining, err := c.queue.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending mutations: %w", err)
	}
	report.Remaining = len(remaining)
	c.metrics.SetQueueDepth(report.Remaining)
	if report.Remaining == 0 {
		c.unregisterSync(tag)
	}

	c.log.Info().
		Str("tag", tag).
		Int("synced", report.Synced).
		Int("rejected", report.Rejected).
		Int("failed", report.Failed).
		Int("dead", report.DeadLettered).
		Int("skipped", report.Skipped).
		Int("remaining", report.Remaining).
		Msg("Sync finished")
	return report, nil
}

func (c *Controller) replayEntry(ctx context.Context, entry queue.Entry, report *SyncReport) {
	m := entry.Mutation
	log := c.log.With().
		Str("mutation", m.ID).
		Str("method", m.Method).
		Str("target", m.Target).
		Logger()

	header := http.Header{}
	if m.ContentType != "" {
		header.Set("Content-Type", m.ContentType)
	}
	snap, err := c.fetch(ctx, m.Method, m.Target, header, m.Body)

	if err == nil && snap.StatusCode < http.StatusInternalServerError {
		if err := c.queue.Remove(ctx, m.ID); err != nil {
			log.Error().Err(err).Msg("Could not remove replayed mutation")
			return
		}
		if snap.StatusCode >= http.StatusBadRequest {
			log.Warn().Int("status", snap.StatusCode).Msg("Mutation rejected by origin, dropping")
			report.Rejected++
			c.metrics.RecordReplay("rejected")
			return
		}
		log.Debug().Int("status", snap.StatusCode).Msg("Mutation synced")
		report.Synced++
		c.metrics.RecordReplay("synced")
		if req, err := http.NewRequest(m.Method, m.Target, nil); err == nil {
			c.applyUpdates(req, snap, log)
		}
		return
	}

	var reason string
	if err != nil {
		reason = err.Error()
	} else {
		reason = fmt.Sprintf("origin answered %d", snap.StatusCode)
	}
	c.recordFailure(ctx, entry, reason, log, report)
}

func (c *Controller) recordFailure(ctx context.Context, entry queue.Entry, reason string, log zerolog.Logger, report *SyncReport) {
	now := time.Now()
	wait := c.backoff(entry.Attempts + 1)
	updated, err := c.queue.RecordFailure(ctx, entry.Mutation.ID, now, reason, now.Add(wait))
	if err != nil {
		log.Error().Err(err).Msg("Could not record failed replay")
		report.Failed++
		return
	}
	if c.sync.MaxAttempts > 0 && updated.Attempts >= c.sync.MaxAttempts {
		if err := c.queue.DeadLetter(ctx, entry.Mutation.ID); err != nil {
			log.Error().Err(err).Msg("Could not move mutation to dead letters")
			report.Failed++
			return
		}
		log.Warn().Str("reason", reason).Int("attempts", updated.Attempts).Msg("Giving up on mutation")
		report.DeadLettered++
		c.metrics.RecordReplay("dead")
		return
	}
	log.Warn().
		Str("reason", reason).
		Int("attempts", updated.Attempts).
		Str("retryIn", duration.Format(wait)).
		Msg("Replay failed, keeping mutation queued")
	report.Failed++
	c.metrics.RecordReplay("failed")
}

// backoff returns the delay before the next replay after the given number of failures.
func (c *Controller) backoff(attempts int) time.Duration {
	if c.sync.Backoff <= 0 || attempts <= 0 {
		return 0
	}
	d := c.sync.Backoff
	for i := 1; i < attempts; i++ {
		if c.sync.MaxBackoff > 0 && d >= c.sync.MaxBackoff {
			break
		}
		if d >= time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if c.sync.MaxBackoff > 0 && d > c.sync.MaxBackoff {
		d = c.sync.MaxBackoff
	}
	return d
}

func newMutation(r *http.Request, body []byte) queue.Mutation {
	return queue.NewMutation(r.Method, r.URL.RequestURI(), r.Header.Get("Content-Type"), body)
}

func (c *Controller) registerSync(tag string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.tags[tag] = true
}

func (c *Controller) unregisterSync(tag string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.tags, tag)
}

// SyncTags returns the registered sync tags.
func (c *Controller) SyncTags() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	tags := make([]string, 0, len(c.tags))
	for tag := range c.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (c *Controller) updateQueueDepth(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if entries, err := c.queue.List(ctx); err == nil {
		c.metrics.SetQueueDepth(len(entries))
	}
}
