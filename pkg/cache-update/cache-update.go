package cacheupdate

import (
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CacheUpdate represents a single resource to refresh after a mutation.
type CacheUpdate struct {
	// Fully resolved relative path to the resource.
	// Equivalent to `url.URL.Path`.
	Path string
	// Update delay, i.e. delay update by this duration.
	Delay time.Duration
}

var delayRegexp = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// UnsafeRequest reports whether the request method may change state on the origin.
func UnsafeRequest(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// GetCacheUpdates gets the updates needed after a mutating request.
// Updates come from `Cache-Update` response headers and from the collection
// the mutated resource belongs to, if that collection is one of the given ones.
// The incoming request is used in order to resolve potentially relative update paths.
func GetCacheUpdates(req *http.Request, res *http.Response, collections []string) []CacheUpdate {
	if !UnsafeRequest(req) {
		return nil
	}
	updates := make([]CacheUpdate, 0)
	seen := make(map[string]bool)
	add := func(cu CacheUpdate) {
		if cu.Path == "" || seen[cu.Path] {
			return
		}
		seen[cu.Path] = true
		updates = append(updates, cu)
	}
	if res != nil {
		for _, update := range res.Header.Values("Cache-Update") {
			add(CacheUpdate{
				Path:  getURL(req, update).Path,
				Delay: getDelay(update),
			})
		}
	}
	if collection := CollectionOf(req.URL.Path, collections); collection != "" {
		add(CacheUpdate{Path: collection})
	}
	return updates
}

// CollectionOf returns the collection path the resource path belongs to,
// e.g. `/tasks` for both `/tasks` and `/tasks/42`.
// It returns an empty string if the path is not inside any of the collections.
func CollectionOf(resourcePath string, collections []string) string {
	clean := path.Clean("/" + resourcePath)
	for _, collection := range collections {
		collection = strings.TrimSuffix(collection, "/")
		if collection == "" {
			continue
		}
		if clean == collection || strings.HasPrefix(clean, collection+"/") {
			return collection
		}
	}
	return ""
}

// getURL returns the URL to update the cache for from the `Cache-Update` header parameter.
// The URL is the first parameter in the header value (separated by a semicolon).
func getURL(r *http.Request, update string) *url.URL {
	possiblyRelativeURL := update
	if i := strings.Index(update, ";"); i != -1 {
		possiblyRelativeURL = update[:i]
	}
	return r.URL.ResolveReference(&url.URL{Path: strings.TrimSpace(possiblyRelativeURL)})
}

// getDelay returns the delay to wait before updating the cache for from the `Cache-Update` header parameter.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayRegexp.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
