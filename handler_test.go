package offlinecache

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/always-cache/offline-cache/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	origin := newTestOrigin()
	notifier := &recordingNotifier{}
	opener := &recordingOpener{}
	c, transport := newTestController(t, origin, func(config *Config) {
		config.Metrics = metrics.New(prometheus.NewRegistry())
		config.Notifier = notifier
		config.Opener = opener
	})
	server := httptest.NewServer(c.Router())
	defer server.Close()

	post := func(path, body string) *http.Response {
		t.Helper()
		res, err := http.Post(server.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		t.Cleanup(func() { res.Body.Close() })
		return res
	}
	get := func(path string) *http.Response {
		t.Helper()
		res, err := http.Get(server.URL + path)
		require.NoError(t, err)
		t.Cleanup(func() { res.Body.Close() })
		return res
	}

	// activation before install is a conflict
	assert.Equal(t, http.StatusConflict, post("/.offline/activate", "").StatusCode)

	res := post("/.offline/install", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var state map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&state))
	assert.Equal(t, "active", state["state"])

	// intercepted through the router
	res = get("/tasks")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "OfflineCache; fwd=bypass; stored", res.Header.Get("Cache-Status"))

	transport.offline.Store(true)
	res = post("/tasks", `{"title":"offline"}`)
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.NotEmpty(t, res.Header.Get(MutationIDHeader))

	res = get("/.offline/status")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var status Status
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, "active", status.State)
	assert.Equal(t, "v1", status.Version)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, []string{DefaultSyncTag}, status.SyncTags)
	assert.Contains(t, status.Partitions, "dynamic-v1")

	transport.offline.Store(false)
	res = post("/.offline/sync?tag="+DefaultSyncTag, "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	var report SyncReport
	require.NoError(t, json.NewDecoder(res.Body).Decode(&report))
	assert.Equal(t, 1, report.Synced)

	res = post("/.offline/push", `{"title":"Reminder","body":"Task due soon","data":{"taskId":"42"}}`)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Len(t, notifier.shown, 1)

	res = post("/.offline/notificationclick", `{"action":"view","notification":{"tag":"task-notification","data":{"taskId":"42"}}}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var click map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&click))
	assert.Equal(t, "/tasks/42", click["opened"])

	assert.Equal(t, http.StatusBadRequest, post("/.offline/notificationclick", "{").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, get("/.offline/sync").StatusCode)

	res = get("/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "offline_cache_requests_total")
	assert.Contains(t, string(body), `offline_cache_replays_total{result="synced"} 1`)
}
