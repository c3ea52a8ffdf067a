package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/queue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
origin: https://tasks.example.com
port: 9090
version: v3
queue:
  provider: badger
  path: /var/lib/offline-cache/queue
endpoints:
  - /tasks
  - /projects
shell:
  - /
  - /index.html
bundle:
  - /static/js/main.js
  - /static/css/main.css
sync:
  maxAttempts: 5
  backoff: 30s
  maxBackoff: 1h
  probeInterval: 15s
push:
  taskDetailPath: /app/tasks/
`

func TestGetConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(sampleConfig), 0644))

	fc, err := getConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 9090, fc.Port)
	assert.Equal(t, "cache.db", fc.DB, "defaults are kept")
	assert.Equal(t, QueueConfig{Provider: "badger", Path: "/var/lib/offline-cache/queue"}, fc.Queue)
	assert.Equal(t, 30*time.Second, fc.Sync.Backoff)
	assert.Equal(t, time.Hour, fc.Sync.MaxBackoff)

	config, err := fc.controllerConfig()
	require.NoError(t, err)
	assert.Equal(t, "tasks.example.com", config.OriginURL.Host)
	assert.Equal(t, "v3", config.Version)
	assert.Equal(t, []string{"/tasks", "/projects"}, config.Endpoints)
	assert.Equal(t, []string{"/static/js/main.js", "/static/css/main.css"}, config.Bundle)
	assert.Equal(t, 5, config.Sync.MaxAttempts)
	assert.Equal(t, 15*time.Second, config.Sync.ProbeInterval)
	assert.Equal(t, "/app/tasks/", config.Push.TaskDetailPath)
}

func TestGetConfigErrors(t *testing.T) {
	_, err := getConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	filename := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("port: [nope"), 0644))
	_, err = getConfig(filename)
	assert.Error(t, err)

	fc, err := getConfig("")
	require.NoError(t, err)
	_, err = fc.controllerConfig()
	assert.Error(t, err, "origin is required")
}

func TestQueueRows(t *testing.T) {
	now := time.Now()
	m := queue.NewMutation("POST", "/tasks", "application/json", nil)
	m.EnqueuedAt = now.Add(-65 * time.Minute)
	rows := queueRows([]queue.Entry{
		{Mutation: m, Attempts: 2, LastError: "origin answered 503", NextAttemptAt: now.Add(10 * time.Minute)},
	}, now)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{m.ID, "POST", "/tasks", "1h 5min", "2", "in 10min", "origin answered 503"}, rows[0])

	var buf bytes.Buffer
	printTable(&buf, queueHeaders, rows)
	assert.Contains(t, buf.String(), "/tasks")
	assert.True(t, strings.Contains(buf.String(), "NEXT ATTEMPT"))
}

func TestPartitionRows(t *testing.T) {
	mem := cache.NewMemCache()
	require.NoError(t, mem.Put("static-v1", cache.CacheEntry{Key: "GET:/"}))
	require.NoError(t, mem.Put("static-v2", cache.CacheEntry{Key: "GET:/"}))
	require.NoError(t, mem.Put("static-v2", cache.CacheEntry{Key: "GET:/index.html"}))

	rows, err := partitionRows(mem, offlinecache.PartitionNames("v2", false))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"static-v1", "1", "no"},
		{"static-v2", "2", "yes"},
	}, rows)
}

func TestOpenQueue(t *testing.T) {
	dir := t.TempDir()
	for _, provider := range []string{"sqlite", "badger", "memory"} {
		fc := defaultFileConfig()
		fc.Queue = QueueConfig{Provider: provider, Path: filepath.Join(dir, provider)}
		q, err := openQueue(fc, zerolog.Nop())
		require.NoError(t, err, provider)
		_, err = q.List(context.Background())
		assert.NoError(t, err)
		require.NoError(t, q.Close())
	}
	fc := defaultFileConfig()
	fc.Queue.Provider = "redis"
	_, err := openQueue(fc, zerolog.Nop())
	assert.Error(t, err)
}
