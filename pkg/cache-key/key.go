package cachekey

import (
	"errors"
	"net/http"
	"strings"
)

var ErrorMethodNotSupported = errors.New("Method not supported")

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{OriginPrefix: originId}
}

// GetKey returns the cache key for a request.
// The key is the request identity: method plus request URI.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.MethodPrefix(r.Method) + r.URL.RequestURI()
}

// GetKeyForPath returns the key a GET request for the given path would get.
func (c CacheKeyer) GetKeyForPath(path string) string {
	return c.MethodPrefix(http.MethodGet) + path
}

// MethodPrefix returns the key prefix shared by all keys for the given method.
func (c CacheKeyer) MethodPrefix(method string) string {
	return strings.ToUpper(method) + ":" + c.OriginPrefix
}

// GetRequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key.
// Only GET keys can be turned back into requests.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	prefix := c.MethodPrefix(http.MethodGet)
	if !strings.HasPrefix(key, prefix) {
		return nil, ErrorMethodNotSupported
	}
	uri := strings.TrimSpace(strings.TrimPrefix(key, prefix))
	return http.NewRequest(http.MethodGet, uri, nil)
}
