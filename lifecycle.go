package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of the controller.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	// A first install failed. The controller never intercepts.
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrLifecycleBusy = errors.New("lifecycle transition in progress")
	ErrNotInstalled  = errors.New("controller is not installed")
)

// number of concurrent precache requests
const installConcurrency = 4

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// isControlling reports whether requests are intercepted.
// Once activated, the controller keeps intercepting through later installs and activations.
func (c *Controller) isControlling() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.controlling
}

// Start installs and, unless configured to wait, activates right away.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Install(ctx); err != nil {
		return err
	}
	if c.waitForActivate {
		c.log.Info().Msg("Installed, waiting for activation")
		return nil
	}
	return c.Activate(ctx)
}

// Install precaches the application shell and the bundle.
// Either every asset is fetched with status 200 and written in one batch,
// or nothing is written and an error is returned.
func (c *Controller) Install(ctx context.Context) error {
	c.mutex.Lock()
	prev := c.state
	if prev == StateInstalling || prev == StateActivating {
		c.mutex.Unlock()
		return ErrLifecycleBusy
	}
	c.state = StateInstalling
	c.mutex.Unlock()

	start := time.Now()
	err := c.precache(ctx)
	c.metrics.RecordInstall(err)

	c.mutex.Lock()
	switch {
	case err == nil && prev == StateActive:
		c.state = StateActive
	case err == nil:
		c.state = StateInstalled
	case prev == StateActive || prev == StateInstalled:
		c.state = prev
	default:
		c.state = StateRedundant
	}
	state := c.state
	c.mutex.Unlock()

	if err != nil {
		c.log.Error().Err(err).Str("state", state.String()).Msg("Install failed")
		return fmt.Errorf("install: %w", err)
	}
	c.log.Info().
		Int("assets", len(c.shell)+len(c.bundle)).
		Dur("took", time.Since(start)).
		Msg("Installed")
	return nil
}

type precacheAsset struct {
	partition string
	path      string
}

func (c *Controller) precache(ctx context.Context) error {
	assets := make([]precacheAsset, 0, len(c.shell)+len(c.bundle))
	for _, p := range c.shell {
		assets = append(assets, precacheAsset{partition: c.partitions.Static, path: p})
	}
	for _, p := range c.bundle {
		assets = append(assets, precacheAsset{partition: c.partitions.Precache, path: p})
	}

	snaps := make([]*serializer.Snapshot, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, asset := range assets {
		g.Go(func() error {
			snap, err := c.fetchPath(gctx, asset.path)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", asset.path, err)
			}
			if snap.StatusCode != http.StatusOK {
				return &StatusError{Path: asset.path, StatusCode: snap.StatusCode}
			}
			snaps[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now()
	batch := make(map[string][]cache.CacheEntry)
	// make sure both partitions exist even with an empty manifest
	batch[c.partitions.Static] = nil
	batch[c.partitions.Precache] = nil
	for i, asset := range assets {
		snap := snaps[i]
		snap.StoredAt = now
		b, err := snap.ToBytes()
		if err != nil {
			return fmt.Errorf("serialize %s: %w", asset.path, err)
		}
		batch[asset.partition] = append(batch[asset.partition], cache.CacheEntry{
			Key:      c.keyer.GetKeyForPath(asset.path),
			StoredAt: now,
			Bytes:    b,
		})
	}
	if err := c.cache.Populate(batch); err != nil {
		return fmt.Errorf("write precache: %w", err)
	}
	return nil
}

// Activate deletes every partition that is not owned by this version
// and starts intercepting requests.
func (c *Controller) Activate(ctx context.Context) error {
	c.mutex.Lock()
	prev := c.state
	switch prev {
	case StateInstalling, StateActivating:
		c.mutex.Unlock()
		return ErrLifecycleBusy
	case StateInstalled, StateActive:
	default:
		c.mutex.Unlock()
		return ErrNotInstalled
	}
	c.state = StateActivating
	c.mutex.Unlock()

	deleted, err := c.cleanup()

	c.mutex.Lock()
	if err != nil {
		c.state = prev
	} else {
		c.state = StateActive
		c.controlling = true
	}
	c.mutex.Unlock()

	if err != nil {
		c.log.Error().Err(err).Msg("Activation failed")
		return fmt.Errorf("activate: %w", err)
	}
	c.log.Info().Strs("deleted", deleted).Msg("Activated, claiming clients")

	// mutations left over from an earlier run are replayed on the next reconnect
	if entries, err := c.queue.List(ctx); err != nil {
		c.log.Error().Err(err).Msg("Could not list pending mutations")
	} else if len(entries) > 0 {
		c.registerSync(c.sync.Tag)
		c.metrics.SetQueueDepth(len(entries))
	}
	return nil
}

// cleanup deletes the partitions outside of the allow-list.
func (c *Controller) cleanup() ([]string, error) {
	names, err := c.cache.Partitions()
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	deleted := make([]string, 0)
	for _, name := range names {
		if c.partitions.Allowed(name) {
			continue
		}
		if _, err := c.cache.DeletePartition(name); err != nil {
			return deleted, fmt.Errorf("delete partition %s: %w", name, err)
		}
		c.log.Debug().Str("partition", name).Msg("Deleted old partition")
		deleted = append(deleted, name)
	}
	return deleted, nil
}
