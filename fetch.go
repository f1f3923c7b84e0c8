package octobooks

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tee "github.com/always-cache/octo-books/pkg/response-writer-tee"
)

// Fetcher is the network.
// An error means the network could not be reached; any HTTP status is a response.
type Fetcher interface {
	Fetch(r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(r *http.Request) (*http.Response, error) {
	return f(r)
}

// OriginFetcher fetches same-origin requests from the catalog origin
// and absolute requests (e.g. remote book covers) from their own URL.
type OriginFetcher struct {
	origin url.URL
	// Host header and TLS server name, if different from the origin URL host
	host   string
	client *http.Client
}

// NewOriginFetcher creates a fetcher for the origin.
// Origins with paths are not supported.
// Host is optional, use it if e.g. the origin URL is just an IP address.
func NewOriginFetcher(origin url.URL, host string) *OriginFetcher {
	transport := http.DefaultTransport
	if host != "" {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
	return &OriginFetcher{
		origin: origin,
		host:   host,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *OriginFetcher) Fetch(r *http.Request) (*http.Response, error) {
	target := f.origin.Scheme + "://" + f.origin.Host + r.URL.RequestURI()
	sameOrigin := !r.URL.IsAbs() || r.URL.Host == f.origin.Host || (f.host != "" && r.URL.Host == f.host)
	if !sameOrigin {
		target = r.URL.String()
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return nil, fmt.Errorf("create origin request: %w", err)
	}
	copyHeader(req.Header, r.Header)
	if sameOrigin && f.host != "" {
		req.Host = f.host
	}
	return f.client.Do(req)
}

// HandlerFetcher uses an in-process handler as the network,
// e.g. when the cache runs as middleware in front of the catalog API.
type HandlerFetcher struct {
	Handler http.Handler
}

func (f HandlerFetcher) Fetch(r *http.Request) (*http.Response, error) {
	rw := tee.NewResponseSaver(nil)
	f.Handler.ServeHTTP(rw, r)
	res, err := rw.HTTPResponse(r)
	if err != nil {
		return nil, fmt.Errorf("read handler response: %w", err)
	}
	return res, nil
}
