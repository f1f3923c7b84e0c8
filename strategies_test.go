package octobooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/always-cache/octo-books/cache"
	"github.com/always-cache/octo-books/catalog"
	"github.com/always-cache/octo-books/classify"
	"github.com/always-cache/octo-books/offline"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBooks = []catalog.Book{
	{ID: "1", Title: "Concurrency in Go", Authors: []string{"Katherine Cox-Buday"}, Tags: []string{"golang"}},
	{ID: "2", Title: "The Go Programming Language", Authors: []string{"Alan Donovan"}, Tags: []string{"golang"}},
	{ID: "3", Title: "Programming Rust", Authors: []string{"Jim Blandy"}, Tags: []string{"rust"}},
}

// catalogAPI serves a small catalog. Every response carries the value of version.
func catalogAPI(version *atomic.Int32) http.Handler {
	r := chi.NewRouter()
	writeList := func(w http.ResponseWriter, books []catalog.Book) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(catalog.BookList{
			Books:      books,
			Pagination: catalog.Paginate(len(books), 1, 10),
		})
	}
	r.Get("/api/books", func(w http.ResponseWriter, r *http.Request) {
		writeList(w, testBooks)
	})
	r.Get("/api/books/search/{term}", func(w http.ResponseWriter, r *http.Request) {
		writeList(w, testBooks[:1])
	})
	r.Get("/api/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testBooks[0])
	})
	r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%d}`, version.Load())
	})
	r.Get("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>shell</html>"))
	})
	r.Get("/covers/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	})
	return r
}

func body(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	return string(b)
}

func TestStrategyFor(t *testing.T) {
	assert.Equal(t, CacheFirstPlaceholder, StrategyFor(classify.Image))
	assert.Equal(t, NetworkFirst, StrategyFor(classify.BookSearch))
	assert.Equal(t, NetworkFirst, StrategyFor(classify.BookList))
	assert.Equal(t, CacheFirst, StrategyFor(classify.BookDetail))
	assert.Equal(t, StaleWhileRevalidate, StrategyFor(classify.API))
	assert.Equal(t, CacheFirst, StrategyFor(classify.Static))
	assert.Equal(t, PassThrough, StrategyFor(classify.Bypass))
}

func TestCacheFirstHitDoesNotFetch(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))

	first, err := o.Fetch(httptest.NewRequest("GET", "/api/books/1", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNetwork, first.Outcome)
	assert.True(t, first.CacheStatus.Stored)
	firstBody := body(t, first.Response)
	require.Equal(t, 1, n.count())

	second, err := o.Fetch(httptest.NewRequest("GET", "/api/books/1", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCache, second.Outcome)
	assert.Equal(t, classify.BookDetail, second.Class)
	assert.Equal(t, firstBody, body(t, second.Response))
	assert.Equal(t, 1, n.count())
}

func TestNetworkFirstStoresAndIndexes(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))

	res, err := o.Fetch(httptest.NewRequest("GET", "/api/books", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNetwork, res.Outcome)
	assert.Equal(t, NetworkFirst, res.Strategy)
	assert.Equal(t, "OctoBooks; fwd=request; stored", res.Response.Header.Get("Cache-Status"))
	body(t, res.Response)

	indexed, err := o.Index().Len()
	require.NoError(t, err)
	assert.Equal(t, len(testBooks), indexed)

	// a second request goes to the network again
	_, err = o.Fetch(httptest.NewRequest("GET", "/api/books", nil))
	require.NoError(t, err)
	assert.Equal(t, 2, n.count())
}

func TestNetworkFirstOfflineFallbacks(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))
	_, err := o.Fetch(httptest.NewRequest("GET", "/api/books", nil))
	require.NoError(t, err)
	n.setDown(true)

	t.Run("cached entry", func(t *testing.T) {
		res, err := o.Fetch(httptest.NewRequest("GET", "/api/books", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomeCache, res.Outcome)
		assert.Equal(t, http.StatusOK, res.Status())
		assert.Equal(t, "OctoBooks; hit; detail=offline", res.Response.Header.Get("Cache-Status"))
	})

	t.Run("list page from index", func(t *testing.T) {
		res, err := o.Fetch(httptest.NewRequest("GET", "/api/books?page=1&limit=2", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomeOffline, res.Outcome)
		assert.Equal(t, http.StatusOK, res.Status())

		var page offline.PagedResult
		require.NoError(t, json.Unmarshal([]byte(body(t, res.Response)), &page))
		assert.True(t, page.Offline)
		assert.Len(t, page.Books, 2)
		assert.Equal(t, 3, page.Pagination.TotalBooks)
		assert.True(t, page.Pagination.HasNext)
	})

	t.Run("search from index", func(t *testing.T) {
		res, err := o.Fetch(httptest.NewRequest("GET", "/api/books/search/rust", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomeOffline, res.Outcome)

		var page offline.PagedResult
		require.NoError(t, json.Unmarshal([]byte(body(t, res.Response)), &page))
		require.Len(t, page.Books, 1)
		assert.Equal(t, catalog.BookID("3"), page.Books[0].ID)
		assert.Equal(t, "rust", page.Query)
	})

	t.Run("tag from index", func(t *testing.T) {
		res, err := o.Fetch(httptest.NewRequest("GET", "/api/books/tag/golang", nil))
		require.NoError(t, err)

		var page offline.PagedResult
		require.NoError(t, json.Unmarshal([]byte(body(t, res.Response)), &page))
		assert.Len(t, page.Books, 2)
		assert.Equal(t, "golang", page.Tag)
	})
}

func TestOfflinePagingWithHugeValues(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))
	_, err := o.Fetch(httptest.NewRequest("GET", "/api/books/search/go", nil))
	require.NoError(t, err)
	n.setDown(true)

	res, err := o.Fetch(httptest.NewRequest("GET", fmt.Sprintf("/api/books/search/rust?page=%d&limit=10", math.MaxInt), nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status())
	var page offline.PagedResult
	require.NoError(t, json.Unmarshal([]byte(body(t, res.Response)), &page))
	assert.Empty(t, page.Books)
	assert.False(t, page.Pagination.HasNext)

	res, err = o.Fetch(httptest.NewRequest("GET", fmt.Sprintf("/api/books/tag/golang?limit=%d", math.MaxInt), nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.Status())
	page = offline.PagedResult{}
	require.NoError(t, json.Unmarshal([]byte(body(t, res.Response)), &page))
	assert.Len(t, page.Books, 1)
	assert.Equal(t, catalog.Pagination{CurrentPage: 1, TotalPages: 1, TotalBooks: 1}, page.Pagination)
}

func TestBookDetailFromIndex(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))
	_, err := o.Fetch(httptest.NewRequest("GET", "/api/books", nil))
	require.NoError(t, err)
	n.setDown(true)

	res, err := o.Fetch(httptest.NewRequest("GET", "/api/books/3", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffline, res.Outcome)
	assert.Equal(t, http.StatusOK, res.Status())
	assert.Equal(t, "OctoBooks; fwd=uri-miss; detail=offline", res.Response.Header.Get("Cache-Status"))

	var book offline.BookResult
	require.NoError(t, json.Unmarshal([]byte(body(t, res.Response)), &book))
	assert.True(t, book.Offline)
	assert.Equal(t, "Programming Rust", book.Title)

	// unknown ids still fail
	res, err = o.Fetch(httptest.NewRequest("GET", "/api/books/99", nil))
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
	assert.Equal(t, OutcomeFailure, res.Outcome)
}

// failingPuts rejects every write to the api partitions.
type failingPuts struct {
	cache.MemCache
}

func (f failingPuts) Put(partition, key string, bytes []byte) error {
	if strings.Contains(partition, "-api-") {
		return errors.New("disk full")
	}
	return f.MemCache.Put(partition, key, bytes)
}

func TestBooksNotIndexedWhenStoreFails(t *testing.T) {
	logger := zerolog.Nop()
	o, err := CreateCache(Config{
		Cache:   failingPuts{cache.NewMemCache()},
		Fetcher: HandlerFetcher{Handler: catalogAPI(&atomic.Int32{})},
		Logger:  &logger,
	})
	require.NoError(t, err)

	res, err := o.Fetch(httptest.NewRequest("GET", "/api/books", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status())
	assert.False(t, res.CacheStatus.Stored)
	assert.Contains(t, body(t, res.Response), "Programming Rust")

	indexed, err := o.Index().Len()
	require.NoError(t, err)
	assert.Equal(t, 0, indexed)
}

func TestSearchWithEmptyIndexIsOffline(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))
	n.setDown(true)

	res, err := o.Fetch(httptest.NewRequest("GET", "/api/books/search/go", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffline, res.Outcome)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status())
	assert.Equal(t, "application/json", res.Response.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"error":"offline","message":"`+OfflineMessage+`","offline":true}`, body(t, res.Response))
	assert.Equal(t, "OctoBooks; fwd=miss; detail=no-data", res.CacheStatus.String())
}

func TestImagePlaceholder(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))

	t.Run("network down", func(t *testing.T) {
		n.setDown(true)
		defer n.setDown(false)
		res, err := o.Fetch(httptest.NewRequest("GET", "https://octo-books.ln1.eu/images/42.jpg", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomePlaceholder, res.Outcome)
		assert.Equal(t, http.StatusOK, res.Status())
		assert.Equal(t, "image/svg+xml", res.Response.Header.Get("Content-Type"))
		assert.Equal(t, "public, max-age=31536000", res.Response.Header.Get("Cache-Control"))
		svg := body(t, res.Response)
		assert.Contains(t, svg, `width="200"`)
		assert.Contains(t, svg, `height="300"`)
		assert.Contains(t, svg, "Image unavailable")
	})

	t.Run("not found", func(t *testing.T) {
		res, err := o.Fetch(httptest.NewRequest("GET", "/missing.png", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomePlaceholder, res.Outcome)
		assert.Equal(t, http.StatusOK, res.Status())
		// placeholders are never stored
		assert.False(t, o.Partitions().Partition(cache.Images).Has("GET:/missing.png"))
	})

	t.Run("cached image survives network loss", func(t *testing.T) {
		res, err := o.Fetch(httptest.NewRequest("GET", "/covers/1.png", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomeNetwork, res.Outcome)
		n.setDown(true)
		defer n.setDown(false)
		res, err = o.Fetch(httptest.NewRequest("GET", "/covers/1.png", nil))
		require.NoError(t, err)
		assert.Equal(t, OutcomeCache, res.Outcome)
		assert.Equal(t, "png", body(t, res.Response))
	})
}

func TestStaleWhileRevalidate(t *testing.T) {
	version := &atomic.Int32{}
	version.Store(1)
	o, n := newTestCache(t, catalogAPI(version))

	res, err := o.Fetch(httptest.NewRequest("GET", "/api/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeNetwork, res.Outcome)
	assert.Equal(t, `{"version":1}`, body(t, res.Response))

	version.Store(2)
	res, err = o.Fetch(httptest.NewRequest("GET", "/api/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCache, res.Outcome)
	assert.Equal(t, `{"version":1}`, body(t, res.Response))
	o.Wait()
	assert.Equal(t, 2, n.count())

	n.setDown(true)
	res, err = o.Fetch(httptest.NewRequest("GET", "/api/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, `{"version":2}`, body(t, res.Response))
	o.Wait()
}

func TestStaleWhileRevalidateOutlivesClient(t *testing.T) {
	version := &atomic.Int32{}
	o, n := newTestCache(t, catalogAPI(version))
	_, err := o.Fetch(httptest.NewRequest("GET", "/api/stats", nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/stats", nil).WithContext(ctx)
	version.Store(5)
	_, err = o.Fetch(req)
	require.NoError(t, err)
	cancel()
	o.Wait()

	n.setDown(true)
	res, err := o.Fetch(httptest.NewRequest("GET", "/api/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, `{"version":5}`, body(t, res.Response))
	o.Wait()
}

func TestNavigationFallsBackToAppShell(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))
	require.NoError(t, o.Precache(context.Background(), []string{"/index.html"}))
	n.setDown(true)

	req := httptest.NewRequest("GET", "/books/42", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	res, err := o.Fetch(req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCache, res.Outcome)
	assert.Equal(t, "<html>shell</html>", body(t, res.Response))

	// other static resources are not replaced by the shell
	_, err = o.Fetch(httptest.NewRequest("GET", "/main.js", nil))
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestPrecache(t *testing.T) {
	o, n := newTestCache(t, catalogAPI(&atomic.Int32{}))
	require.NoError(t, o.Precache(context.Background(), []string{"/index.html"}))
	assert.True(t, o.Partitions().Partition(cache.Static).Has("GET:/index.html"))

	err := o.Precache(context.Background(), []string{"/missing.css"})
	var precacheErr *PrecacheError
	require.ErrorAs(t, err, &precacheErr)
	assert.Equal(t, http.StatusNotFound, precacheErr.Status)

	n.setDown(true)
	err = o.Precache(context.Background(), []string{"/index.html"})
	assert.ErrorIs(t, err, ErrNetworkUnavailable)
}

func TestCustomClassifierPrefixes(t *testing.T) {
	n := &network{handler: catalogAPI(&atomic.Int32{}), down: true}
	o, err := CreateCache(Config{
		Cache:      cache.NewMemCache(),
		Fetcher:    n,
		Classifier: &classify.Classifier{ImagePrefixes: []string{"cdn.example.com/covers/"}},
	})
	require.NoError(t, err)

	res, err := o.Fetch(httptest.NewRequest("GET", "https://cdn.example.com/covers/1", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomePlaceholder, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Response.Header.Get("Cache-Status"), "OctoBooks; fwd=uri-miss"))
}
