package offlinecache

import (
	"mime"
	"net/http"
	"path"
	"strings"
)

// Category is the class of an intercepted request.
type Category string

const (
	CategoryAPI        Category = "api"
	CategoryStatic     Category = "static"
	CategoryNavigation Category = "navigation"
	CategoryOther      Category = "other"
)

// Strategy is the procedure that decides between network and cache.
type Strategy string

const (
	// API calls: network, awaited write to dynamic, then cache, then a synthesized 503.
	StrategyNetworkFirst Strategy = "network-first"
	// Static assets: cache, then network with an awaited write to static.
	StrategyCacheFirst Strategy = "cache-first"
	// Navigations: network, then the cached page or the application shell.
	StrategyNavigation Strategy = "network-first-shell"
	// Everything else: network with a background write, then any partition.
	StrategyDefault Strategy = "network-first-opportunistic"
	// Bundle assets: cache, refreshed in the background.
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// RouteConfig is the input of request classification.
type RouteConfig struct {
	APIPrefix    string
	Endpoints    []string
	Bundle       []string
	BundlePrefix string
}

func routeConfig(config Config) RouteConfig {
	rc := RouteConfig{
		APIPrefix:    config.APIPrefix,
		Endpoints:    config.Endpoints,
		Bundle:       config.Bundle,
		BundlePrefix: config.BundlePrefix,
	}
	if rc.APIPrefix == "" {
		rc.APIPrefix = "/api/"
	}
	if rc.Endpoints == nil {
		rc.Endpoints = []string{"/tasks"}
	}
	return rc
}

// Classify assigns the request to exactly one category. The first match wins.
func Classify(r *http.Request, rc RouteConfig) Category {
	if isAPI(r.URL.Path, rc) {
		return CategoryAPI
	}
	switch destination(r) {
	case "image", "script", "style":
		return CategoryStatic
	}
	if isNavigation(r) {
		return CategoryNavigation
	}
	return CategoryOther
}

// SelectStrategy maps a category to its strategy.
func SelectStrategy(category Category, r *http.Request, rc RouteConfig) Strategy {
	switch category {
	case CategoryAPI:
		return StrategyNetworkFirst
	case CategoryStatic:
		if dest := destination(r); (dest == "script" || dest == "style") && isBundle(r.URL.Path, rc) {
			return StrategyStaleWhileRevalidate
		}
		return StrategyCacheFirst
	case CategoryNavigation:
		return StrategyNavigation
	default:
		return StrategyDefault
	}
}

func isAPI(p string, rc RouteConfig) bool {
	if rc.APIPrefix != "" && strings.HasPrefix(p, rc.APIPrefix) {
		return true
	}
	return endpointOf(p, rc.Endpoints) != ""
}

// endpointOf returns the endpoint the path equals or is below.
func endpointOf(p string, endpoints []string) string {
	for _, endpoint := range endpoints {
		endpoint = strings.TrimSuffix(endpoint, "/")
		if endpoint == "" {
			continue
		}
		if p == endpoint || strings.HasPrefix(p, endpoint+"/") {
			return endpoint
		}
	}
	return ""
}

func isBundle(p string, rc RouteConfig) bool {
	if rc.BundlePrefix != "" && strings.HasPrefix(p, rc.BundlePrefix) {
		return true
	}
	return contains(rc.Bundle, p)
}

// destination returns the request destination as the browser reports it in
// Sec-Fetch-Dest. Without the header, it is inferred from the file extension.
func destination(r *http.Request) string {
	if dest := strings.ToLower(r.Header.Get("Sec-Fetch-Dest")); dest != "" {
		return dest
	}
	ext := path.Ext(r.URL.Path)
	if ext == "" {
		return ""
	}
	mediaType, _, _ := mime.ParseMediaType(mime.TypeByExtension(ext))
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return "image"
	case strings.Contains(mediaType, "javascript"):
		return "script"
	case mediaType == "text/css":
		return "style"
	}
	return ""
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
