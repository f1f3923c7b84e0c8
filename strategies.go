package octobooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/octo-books/cache"
	"github.com/always-cache/octo-books/classify"
	cachestatus "github.com/always-cache/octo-books/pkg/cache-status"
	serializer "github.com/always-cache/octo-books/pkg/response-serializer"

	"github.com/rs/zerolog"
)

// Strategy is a caching algorithm.
type Strategy string

const (
	CacheFirst            Strategy = "cache-first"
	NetworkFirst          Strategy = "network-first"
	StaleWhileRevalidate  Strategy = "stale-while-revalidate"
	CacheFirstPlaceholder Strategy = "cache-first-placeholder"
	PassThrough           Strategy = "pass-through"
)

type route struct {
	strategy Strategy
	purpose  cache.Purpose
}

var routes = map[classify.Class]route{
	classify.Image:      {CacheFirstPlaceholder, cache.Images},
	classify.BookSearch: {NetworkFirst, cache.API},
	classify.BookList:   {NetworkFirst, cache.API},
	classify.BookDetail: {CacheFirst, cache.API},
	classify.API:        {StaleWhileRevalidate, cache.API},
	classify.Static:     {CacheFirst, cache.Static},
	classify.Bypass:     {PassThrough, ""},
}

// StrategyFor returns the strategy used for a resource class.
func StrategyFor(class classify.Class) Strategy {
	return routes[class].strategy
}

type request struct {
	r         *http.Request
	class     classify.Class
	strategy  Strategy
	key       string
	partition cache.Partition
	status    cachestatus.CacheStatus
	log       zerolog.Logger
}

func (req *request) result(res *http.Response, outcome Outcome) Result {
	res.Header.Set("Cache-Status", req.status.String())
	return Result{
		Response:    res,
		Class:       req.class,
		Strategy:    req.strategy,
		Outcome:     outcome,
		CacheStatus: req.status,
	}
}

func (req *request) failure(err error) (Result, error) {
	return Result{
		Class:       req.class,
		Strategy:    req.strategy,
		Outcome:     OutcomeFailure,
		CacheStatus: req.status,
	}, networkError(err)
}

// Fetch answers the request with the strategy of its resource class.
// An error is returned only when neither the network nor any cache can produce a response;
// it then wraps ErrNetworkUnavailable.
func (o *OctoBooks) Fetch(r *http.Request) (Result, error) {
	class := o.classifier.Classify(r)
	rt := routes[class]
	req := &request{
		r:        r,
		class:    class,
		strategy: rt.strategy,
		log: o.log.With().
			Str("class", string(class)).
			Str("strategy", string(rt.strategy)).
			Logger(),
	}
	if rt.purpose != "" {
		req.key = o.keyer.GetKey(r)
		req.partition = o.partitions.Partition(rt.purpose)
	}

	switch rt.strategy {
	case CacheFirst:
		return o.cacheFirst(req)
	case NetworkFirst:
		return o.networkFirst(req)
	case StaleWhileRevalidate:
		return o.staleWhileRevalidate(req)
	case CacheFirstPlaceholder:
		return o.cacheFirstPlaceholder(req), nil
	default:
		return o.passThrough(req)
	}
}

func (o *OctoBooks) passThrough(req *request) (Result, error) {
	if req.r.Method != http.MethodGet {
		req.status.Forward(cachestatus.FwdMethod)
	} else {
		req.status.Forward(cachestatus.FwdBypass)
	}
	res, err := o.fetcher.Fetch(req.r)
	if err != nil {
		return req.failure(err)
	}
	return req.result(res, OutcomeNetwork), nil
}

// cacheFirst returns the stored response without touching the network if there is one.
func (o *OctoBooks) cacheFirst(req *request) (Result, error) {
	if res, ok := o.match(req); ok {
		req.status.Hit()
		return req.result(res, OutcomeCache), nil
	}
	req.status.Forward(cachestatus.FwdUriMiss)
	res, err := o.fetcher.Fetch(req.r)
	if err != nil {
		if req.class == classify.Static && isNavigation(req.r) {
			if shell, ok := o.appShell(req); ok {
				req.status.Detail = cachestatus.DetailOffline
				return req.result(shell, OutcomeCache), nil
			}
		}
		if req.class == classify.BookDetail {
			if book, ok := o.offlineBook(req); ok {
				req.status.Detail = cachestatus.DetailOffline
				return req.result(book, OutcomeOffline), nil
			}
		}
		return req.failure(err)
	}
	req.status.Stored = o.store(req, res)
	return req.result(res, OutcomeNetwork), nil
}

// networkFirst always asks the network first and falls back to the stored response,
// then to the offline book index, then to the structured offline response.
func (o *OctoBooks) networkFirst(req *request) (Result, error) {
	req.status.Forward(cachestatus.FwdRequest)
	res, err := o.fetcher.Fetch(req.r)
	if err == nil {
		req.status.Stored = o.store(req, res)
		if req.status.Stored {
			o.recordBooks(req, res)
		}
		return req.result(res, OutcomeNetwork), nil
	}
	req.log.Debug().Err(err).Str("key", req.key).Msg("Network unavailable, falling back")

	if cached, ok := o.match(req); ok {
		req.status.Hit()
		req.status.Detail = cachestatus.DetailOffline
		return req.result(cached, OutcomeCache), nil
	}
	req.status.Forward(cachestatus.FwdMiss)
	return req.result(o.offlineResponse(req), OutcomeOffline), nil
}

// staleWhileRevalidate returns the stored response immediately and refreshes it in the background.
func (o *OctoBooks) staleWhileRevalidate(req *request) (Result, error) {
	if cached, ok := o.match(req); ok {
		req.status.Hit()
		req.status.Detail = cachestatus.DetailRevalidate
		o.revalidate(req)
		return req.result(cached, OutcomeCache), nil
	}
	req.status.Forward(cachestatus.FwdUriMiss)
	res, err := o.fetcher.Fetch(req.r)
	if err != nil {
		return req.failure(err)
	}
	req.status.Stored = o.store(req, res)
	return req.result(res, OutcomeNetwork), nil
}

func (o *OctoBooks) revalidate(req *request) {
	// the client may be gone before the refresh is done
	bg := *req
	bg.r = req.r.Clone(context.WithoutCancel(req.r.Context()))
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		res, err := o.fetcher.Fetch(bg.r)
		if err != nil {
			bg.log.Debug().Err(err).Str("key", bg.key).Msg("Could not revalidate")
			return
		}
		defer res.Body.Close()
		if o.store(&bg, res) {
			bg.log.Trace().Str("key", bg.key).Msg("Revalidated")
		}
	}()
}

// cacheFirstPlaceholder never fails: when neither cache nor network has the image,
// the placeholder image is returned.
func (o *OctoBooks) cacheFirstPlaceholder(req *request) Result {
	if res, ok := o.match(req); ok {
		req.status.Hit()
		return req.result(res, OutcomeCache)
	}
	req.status.Forward(cachestatus.FwdUriMiss)
	res, err := o.fetcher.Fetch(req.r)
	if err == nil && res.StatusCode == http.StatusOK {
		req.status.Stored = o.store(req, res)
		return req.result(res, OutcomeNetwork)
	}
	if err != nil {
		req.log.Debug().Err(err).Str("url", req.r.URL.String()).Msg("Image unavailable")
	} else {
		req.log.Debug().Int("status", res.StatusCode).Str("url", req.r.URL.String()).Msg("Image unavailable")
		res.Body.Close()
	}
	req.status.Detail = cachestatus.DetailPlaceholder
	return req.result(placeholderResponse(req.r), OutcomePlaceholder)
}

// match returns the stored response for the request.
// Entries that cannot be decoded are purged and reported as misses.
func (o *OctoBooks) match(req *request) (*http.Response, bool) {
	b, err := req.partition.Match(req.key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, false
	}
	if err != nil {
		req.log.Error().Err(err).Str("key", req.key).Msg("Could not read from cache")
		return nil, false
	}
	stored, err := serializer.BytesToStoredResponse(b, req.r)
	if err != nil {
		// in case we have a corrupted cache entry, we delete it and serve the request
		req.log.Error().Err(err).Str("key", req.key).Msg("Could not decode cached response")
		req.partition.Purge(req.key)
		return nil, false
	}
	req.log.Trace().Str("key", req.key).Time("storedAt", stored.StoredAt).Msg("Cache hit")
	return stored.Response, true
}

// store writes 200 responses to the partition of the request, overwriting any previous entry.
// The response body stays readable.
func (o *OctoBooks) store(req *request, res *http.Response) bool {
	if res.StatusCode != http.StatusOK {
		req.log.Trace().Str("key", req.key).Int("http-status", res.StatusCode).Msg("Non-cacheable response")
		return false
	}
	b, err := serializer.StoredResponseToBytes(serializer.TimedResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		req.log.Error().Err(err).Str("key", req.key).Msg("Could not serialize response")
		return false
	}
	if err := req.partition.Put(req.key, b); err != nil {
		req.log.Error().Err(err).Str("key", req.key).Msg("Could not write to cache")
		return false
	}
	req.log.Trace().Str("key", req.key).Str("partition", req.partition.Name).Msg("Cache write")
	return true
}

// Precache fetches the given paths and stores them in the static partition.
// It fails on the first path that cannot be fetched with a 200.
func (o *OctoBooks) Precache(ctx context.Context, paths []string) error {
	partition := o.partitions.Partition(cache.Static)
	for _, path := range paths {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		req := &request{
			r:         r,
			class:     classify.Static,
			strategy:  CacheFirst,
			key:       o.keyer.GetKey(r),
			partition: partition,
			log:       o.log,
		}
		res, err := o.fetcher.Fetch(r)
		if err != nil {
			return networkError(err)
		}
		if res.StatusCode != http.StatusOK {
			res.Body.Close()
			return &PrecacheError{Path: path, Status: res.StatusCode}
		}
		stored := o.store(req, res)
		res.Body.Close()
		if !stored {
			return fmt.Errorf("precache %s: could not store response", path)
		}
	}
	o.log.Info().Int("assets", len(paths)).Str("partition", partition.Name).Msg("Precached static assets")
	return nil
}

type PrecacheError struct {
	Path   string
	Status int
}

func (e *PrecacheError) Error() string {
	return fmt.Sprintf("precache %s: status %d", e.Path, e.Status)
}

func isNavigation(r *http.Request) bool {
	return r.Header.Get("Sec-Fetch-Dest") == "document"
}

// appShell returns the cached /index.html, which the UI can route from on its own.
func (o *OctoBooks) appShell(req *request) (*http.Response, bool) {
	shellReq, err := http.NewRequestWithContext(req.r.Context(), http.MethodGet, "/index.html", nil)
	if err != nil {
		return nil, false
	}
	shell := *req
	shell.r = shellReq
	shell.key = o.keyer.GetKey(shellReq)
	shell.partition = o.partitions.Partition(cache.Static)
	return o.match(&shell)
}
