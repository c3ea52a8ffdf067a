package offlinecache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// StatusError is returned when the origin answered, but not with the expected status.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Path, e.StatusCode)
}

// fetch sends the request to the origin and captures the complete response.
// Any error means the network failed: no usable response arrived.
func (c *Controller) fetch(ctx context.Context, method, uri string, header http.Header, body []byte) (*serializer.Snapshot, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.origin+uri, reader)
	if err != nil {
		return nil, err
	}
	if c.originHost != "" {
		req.Host = c.originHost
	}
	copyHeader(req.Header, header)
	req.Header.Del("Connection")

	c.log.Trace().
		Str("method", method).
		Str("uri", uri).
		Msg("Requesting content from origin")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return serializer.FromResponse(res)
}

// fetchPath fetches a GET request for the path without any request headers.
func (c *Controller) fetchPath(ctx context.Context, path string) (*serializer.Snapshot, error) {
	return c.fetch(ctx, http.MethodGet, path, nil, nil)
}
