package offlinecache

import (
	"encoding/json"
	"net/http"

	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

const (
	assetOfflineText    = "Offline: this asset is not available"
	appOfflineText      = "App not available offline"
	resourceOfflineText = "Offline: this resource is not available"
)

type offlineError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// offlineAPIResponse is what the page gets for an API call that neither
// the network nor the dynamic partition could answer.
func (c *Controller) offlineAPIResponse() *serializer.Snapshot {
	body, err := json.Marshal(offlineError{Error: "Offline", Message: c.offlineMessage})
	if err != nil {
		// cannot happen with two strings
		body = []byte(`{"error":"Offline"}`)
	}
	return serializer.New(http.StatusServiceUnavailable, "application/json", body)
}

func offlineTextResponse(text string) *serializer.Snapshot {
	return serializer.New(http.StatusServiceUnavailable, "text/plain; charset=utf-8", []byte(text))
}
