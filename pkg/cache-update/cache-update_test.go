package cacheupdate

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetCacheUpdates(t *testing.T) {
	req, _ := http.NewRequest("DELETE", "/tasks/42", nil)
	res := &http.Response{Header: http.Header{}}
	res.Header.Add("Cache-Update", "/stats; delay=2")
	res.Header.Add("Cache-Update", "/tasks")

	updates := GetCacheUpdates(req, res, []string{"/tasks"})

	assert.Equal(t, []CacheUpdate{
		{Path: "/stats", Delay: 2 * time.Second},
		{Path: "/tasks"},
	}, updates)
}

func TestGetCacheUpdatesSafeRequest(t *testing.T) {
	req, _ := http.NewRequest("GET", "/tasks", nil)
	res := &http.Response{Header: http.Header{"Cache-Update": {"/tasks"}}}
	assert.Nil(t, GetCacheUpdates(req, res, []string{"/tasks"}))
}

func TestCollectionOf(t *testing.T) {
	collections := []string{"/api/tasks/", "/tasks"}
	assert.Equal(t, "/tasks", CollectionOf("/tasks/42", collections))
	assert.Equal(t, "/tasks", CollectionOf("/tasks", collections))
	assert.Equal(t, "/api/tasks", CollectionOf("/api/tasks/7/complete", collections))
	assert.Equal(t, "", CollectionOf("/tasksx", collections))
	assert.Equal(t, "", CollectionOf("/categories/1", collections))
}

func TestGetDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, getDelay("/x; DELAY=5"))
	assert.Equal(t, time.Duration(0), getDelay("/x"))
}
