package cachekey

import (
	"net/http"
	"strings"
)

const (
	methodSeparator = ":"
	headerSeparator = "\t"
)

// CacheKeyer builds cache keys from requests.
// A key consists of the method, the request URI and the values of the relevant headers.
type CacheKeyer struct {
	// Request headers whose values select between stored responses,
	// e.g. Accept-Language when the origin localizes its responses.
	Headers []string
}

func NewCacheKeyer(headers ...string) CacheKeyer {
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		normalized = append(normalized, http.CanonicalHeaderKey(h))
	}
	return CacheKeyer{Headers: normalized}
}

// GetKey returns the cache key for a request.
// Same-origin requests are keyed by their request URI only, so that the same resource
// requested through different hostnames shares one entry.
// Requests for other origins (e.g. remote book covers) keep scheme and host.
func (c CacheKeyer) GetKey(r *http.Request) string {
	uri := r.URL.RequestURI()
	if r.URL.IsAbs() {
		uri = r.URL.Scheme + "://" + r.URL.Host + uri
	}
	key := r.Method + methodSeparator + uri
	for _, name := range c.Headers {
		if value := r.Header.Get(name); value != "" {
			key += headerSeparator + strings.ToLower(name) + ": " + value
		}
	}
	return key
}
