// Package rfc9211 builds Cache-Status response header values (RFC 9211).
package rfc9211

import (
	"fmt"
	"strings"
)

const CacheName = "OfflineCache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdReasonStale FwdReason = "stale"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) GetDetail() string {
	return cs.detail
}

func (cs CacheStatus) String() string {
	parts := []string{CacheName}
	switch {
	case cs.Status == StatusHit:
		parts = append(parts, "hit")
	case cs.Status == StatusFwd && cs.FwdReason != "":
		parts = append(parts, fmt.Sprintf("fwd=%s", cs.FwdReason))
	}
	if cs.Stored {
		parts = append(parts, "stored")
	}
	if cs.detail != "" {
		parts = append(parts, "detail="+cs.detail)
	}
	return strings.Join(parts, "; ")
}
