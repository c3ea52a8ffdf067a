package cachekey

import (
	"net/http"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("this-is-the-origin")
	r, _ := http.NewRequest("GET", "http://dev.localhost/tasks?done=false", nil)
	key := keygen.GetKey(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("Could not create request from key %s: %v", key, err)
	}
	if url := req.URL.String(); url != "/tasks?done=false" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
}

func TestKeyIncludesMethod(t *testing.T) {
	keygen := NewCacheKeyer("")
	get, _ := http.NewRequest("GET", "/tasks", nil)
	post, _ := http.NewRequest("POST", "/tasks", nil)
	if keygen.GetKey(get) == keygen.GetKey(post) {
		t.Fatalf("GET and POST share key %s", keygen.GetKey(get))
	}
	if keygen.GetKey(get) != keygen.GetKeyForPath("/tasks") {
		t.Fatalf("Path key %s differs from request key %s", keygen.GetKeyForPath("/tasks"), keygen.GetKey(get))
	}
	if _, err := keygen.GetRequestFromKey(keygen.GetKey(post)); err != ErrorMethodNotSupported {
		t.Fatalf("Expected method not supported, got %v", err)
	}
}
