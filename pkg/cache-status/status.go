// Package cachestatus builds the Cache-Status response header (RFC 9211)
// describing how the offline cache produced a response.
package cachestatus

import "fmt"

// Name is the cache identifier used in the header.
const Name = "OctoBooks"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"

	// The cache was able to select a fresh response for the
	// request, but the request's semantics did not allow its use.
	// Network-first requests always go to the network first.
	FwdRequest FwdReason = "request"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdStale FwdReason = "stale"
)

// Details explaining responses that did not come from the network nor the cache verbatim.
const (
	DetailOffline     = "offline"
	DetailPlaceholder = "placeholder"
	DetailNoData      = "no-data"
	DetailRevalidate  = "revalidating"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Whether the response was stored in the cache.
	Stored bool
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = Hit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = Fwd
	cs.FwdReason = reason
}

func (cs CacheStatus) String() string {
	status := Name
	if cs.Status == Hit {
		status += "; hit"
	} else if cs.FwdReason != "" {
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}
