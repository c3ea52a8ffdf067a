package offlinecache

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/always-cache/offline-cache/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionNames(t *testing.T) {
	p := PartitionNames("v7", false)
	assert.Equal(t, Partitions{
		Static:   "static-v7",
		Dynamic:  "dynamic-v7",
		Pages:    "pages-v7",
		Precache: "precache-v7",
	}, p)
	assert.Equal(t, []string{"static-v7", "dynamic-v7", "pages-v7", "precache-v7"}, p.AllowList())

	shared := PartitionNames("v7", true)
	assert.Equal(t, "dynamic-v7", shared.Pages)
	assert.Equal(t, []string{"static-v7", "dynamic-v7", "precache-v7"}, shared.AllowList())
	assert.False(t, shared.Allowed("pages-v7"))

	assert.Equal(t, "static-v1", PartitionNames("", false).Static)
}

func keys(t *testing.T, p cache.CacheProvider, partition string) []string {
	t.Helper()
	keys := make([]string, 0)
	require.NoError(t, p.Keys(partition, func(k string) { keys = append(keys, k) }))
	return keys
}

func TestInstallPopulatesPartitions(t *testing.T) {
	c, _ := newTestController(t, newTestOrigin(), func(config *Config) {
		config.WaitForActivate = true
	})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateInstalled, c.State())

	assert.Equal(t, []string{"GET:/", "GET:/index.html"}, keys(t, c.cache, "static-v1"))
	assert.Equal(t, []string{"GET:/static/app.css", "GET:/static/app.js"}, keys(t, c.cache, "precache-v1"))
	snap, ok := cached(t, c, "static-v1", "/index.html")
	require.True(t, ok)
	assert.Equal(t, "<html>index</html>", string(snap.Body))
	assert.False(t, snap.StoredAt.IsZero())

	// installed but waiting: pages still talk to the network directly
	res := serve(c, apiRequest(http.MethodGet, "/tasks", ""))
	assert.Equal(t, http.StatusOK, res.Code)
	_, ok = cached(t, c, c.partitions.Dynamic, "/tasks")
	assert.False(t, ok)

	require.NoError(t, c.Activate(context.Background()))
	assert.Equal(t, StateActive, c.State())
}

func TestInstallFailsWhenAssetMissing(t *testing.T) {
	origin := newTestOrigin()
	origin.removeAsset("/favicon.ico")
	c, _ := newTestController(t, origin, func(config *Config) {
		config.Shell = nil // defaults: /, /index.html, /manifest.json, /favicon.ico
		config.Bundle = []string{"/static/app.js"}
	})

	err := c.Start(context.Background())
	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "/favicon.ico", statusErr.Path)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	assert.Equal(t, StateRedundant, c.State())
	partitions, err := c.cache.Partitions()
	require.NoError(t, err)
	assert.Empty(t, partitions)
	assert.ErrorIs(t, c.Activate(context.Background()), ErrNotInstalled)
}

func TestInstallFailsWhenOffline(t *testing.T) {
	c, transport := newTestController(t, newTestOrigin(), nil)
	transport.offline.Store(true)
	require.Error(t, c.Install(context.Background()))
	assert.Equal(t, StateRedundant, c.State())
}

func TestInstallIsIdempotent(t *testing.T) {
	c, _ := newActiveController(t, newTestOrigin(), nil)
	first, ok := cached(t, c, "static-v1", "/")
	require.True(t, ok)
	firstKeys := keys(t, c.cache, "static-v1")

	require.NoError(t, c.Install(context.Background()))
	assert.Equal(t, StateActive, c.State())
	second, ok := cached(t, c, "static-v1", "/")
	require.True(t, ok)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, firstKeys, keys(t, c.cache, "static-v1"))
}

func TestFailedReinstallKeepsActive(t *testing.T) {
	c, transport := newActiveController(t, newTestOrigin(), nil)
	transport.offline.Store(true)
	require.Error(t, c.Install(context.Background()))
	assert.Equal(t, StateActive, c.State())
	_, ok := cached(t, c, "static-v1", "/")
	assert.True(t, ok)
}

func TestActivateDeletesOldPartitions(t *testing.T) {
	mem := cache.NewMemCache()
	for _, name := range []string{"static-v0", "dynamic-v0", "pages-v0", "unrelated", "dynamic-v1"} {
		require.NoError(t, mem.OpenPartition(name))
	}
	c, _ := newActiveController(t, newTestOrigin(), func(config *Config) {
		config.Cache = mem
	})

	partitions, err := c.cache.Partitions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v1", "dynamic-v1", "precache-v1"}, partitions)
	for _, name := range partitions {
		assert.True(t, c.partitions.Allowed(name), name)
	}

	// activating again re-runs the cleanup
	require.NoError(t, mem.OpenPartition("static-v0"))
	require.NoError(t, c.Activate(context.Background()))
	has, err := c.cache.HasPartition("static-v0")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestActivateRequiresInstall(t *testing.T) {
	c, _ := newTestController(t, newTestOrigin(), nil)
	assert.ErrorIs(t, c.Activate(context.Background()), ErrNotInstalled)
	assert.Equal(t, StateParsed, c.State())
}

func TestInstallWhileInstallingIsBusy(t *testing.T) {
	origin := newTestOrigin()
	requested := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(requested) })
		<-release
		origin.ServeHTTP(w, r)
	})
	c, _ := newTestController(t, blocking, nil)

	done := make(chan error, 1)
	go func() { done <- c.Install(context.Background()) }()
	select {
	case <-requested:
	case <-time.After(5 * time.Second):
		t.Fatal("install never reached the origin")
	}
	assert.Equal(t, StateInstalling, c.State())
	assert.ErrorIs(t, c.Install(context.Background()), ErrLifecycleBusy)
	assert.ErrorIs(t, c.Activate(context.Background()), ErrLifecycleBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateInstalled, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "redundant", StateRedundant.String())
	assert.Equal(t, "State(42)", State(42).String())
}
