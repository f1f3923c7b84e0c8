// Package octobooks is the offline cache of the Octo Books catalog.
// It sits between the catalog UI and the catalog API, answers every request
// with the caching strategy of its resource class, and keeps serving book data
// from its caches and the offline book index when the network is gone.
package octobooks

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/always-cache/octo-books/cache"
	"github.com/always-cache/octo-books/classify"
	"github.com/always-cache/octo-books/offline"
	cachekey "github.com/always-cache/octo-books/pkg/cache-key"
	cachestatus "github.com/always-cache/octo-books/pkg/cache-status"

	"github.com/rs/zerolog"
)

const (
	DefaultCacheName = "octo-books"
	DefaultVersion   = "v1"
)

type Config struct {
	// Storage for cache entries.
	Cache cache.CacheProvider
	// Name of the cache, used as the prefix of every partition name.
	CacheName string
	// Version of the running cache. Partitions of other versions are deleted on activation.
	CacheVersion string
	// The network. Required.
	Fetcher Fetcher
	// Classifier to use. The default classifier is used if nil.
	Classifier *classify.Classifier
	// Request headers whose values select between stored responses.
	Headers []string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type OctoBooks struct {
	partitions *cache.Manager
	fetcher    Fetcher
	classifier classify.Classifier
	keyer      cachekey.CacheKeyer
	index      *offline.Index
	log        zerolog.Logger
	// background revalidations
	background sync.WaitGroup
}

// CreateCache initializes the octo-books instance and opens the partitions of its version.
func CreateCache(config Config) (*OctoBooks, error) {
	if config.Cache == nil {
		return nil, errors.New("no cache provider configured")
	}
	if config.Fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	name := config.CacheName
	if name == "" {
		name = DefaultCacheName
	}
	version := config.CacheVersion
	if version == "" {
		version = DefaultVersion
	}
	classifier := classify.Classifier{}
	if config.Classifier != nil {
		classifier = *config.Classifier
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("cache", name).
		Str("version", version).
		Logger()

	partitions := cache.NewManager(config.Cache, name, version)
	if err := partitions.Open(); err != nil {
		return nil, err
	}

	return &OctoBooks{
		partitions: partitions,
		fetcher:    config.Fetcher,
		classifier: classifier,
		keyer:      cachekey.NewCacheKeyer(config.Headers...),
		index:      offline.NewIndex(partitions.Partition(cache.Offline), &logger),
		log:        logger,
	}, nil
}

// Partitions returns the partition manager of the running version.
func (o *OctoBooks) Partitions() *cache.Manager {
	return o.partitions
}

// Index returns the offline book index.
func (o *OctoBooks) Index() *offline.Index {
	return o.index
}

// Wait blocks until all background revalidations have finished.
func (o *OctoBooks) Wait() {
	o.background.Wait()
}

// ServeHTTP implements the http.Handler interface.
func (o *OctoBooks) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := o.Fetch(r)
	o.Respond(w, r, result, err)
}

// Respond writes the result of Fetch to the client.
// Network failures become 502 Bad Gateway.
func (o *OctoBooks) Respond(w http.ResponseWriter, r *http.Request, result Result, err error) {
	if err != nil {
		o.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Could not get response")
		w.Header().Set("Cache-Status", result.CacheStatus.String())
		http.Error(w, "Could not get response", http.StatusBadGateway)
		o.logRequest(r, result, http.StatusBadGateway)
		return
	}
	o.send(w, r, result)
}

func (o *OctoBooks) send(w http.ResponseWriter, r *http.Request, result Result) {
	res := result.Response
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if res.Body != nil {
		bytesWritten, err := io.Copy(w, res.Body)
		if err != nil {
			o.log.Error().Err(err).Msg("Could not write response body to client")
		}
		o.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	}
	o.logRequest(r, result, res.StatusCode)
}

func (o *OctoBooks) logRequest(r *http.Request, result Result, status int) {
	o.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("class", string(result.Class)).
		Str("strategy", string(result.Strategy)).
		Str("outcome", string(result.Outcome)).
		Int("status", status).
		Str("cacheStatus", result.CacheStatus.String()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}

// Outcome is the terminal state of a request.
type Outcome string

const (
	// The response came from the network.
	OutcomeNetwork Outcome = "network"
	// The response came from a cache partition.
	OutcomeCache Outcome = "cache"
	// The response was synthesized from the offline book index,
	// or is the structured offline response when no data exists.
	OutcomeOffline Outcome = "offline"
	// The response is the image placeholder.
	OutcomePlaceholder Outcome = "placeholder"
	// No response could be produced.
	OutcomeFailure Outcome = "failure"
)

// Result describes how a request was answered.
type Result struct {
	// Nil if and only if the outcome is a failure.
	Response    *http.Response
	Class       classify.Class
	Strategy    Strategy
	Outcome     Outcome
	CacheStatus cachestatus.CacheStatus
}

// Status returns the status code of the response, or 0 on failure.
func (r Result) Status() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.StatusCode
}

// ErrNetworkUnavailable is returned when the network fails and nothing can stand in for it.
var ErrNetworkUnavailable = errors.New("network unavailable")

func networkError(err error) error {
	return fmt.Errorf("%w: %w", ErrNetworkUnavailable, err)
}
