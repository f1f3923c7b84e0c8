// Package offline keeps a local snapshot of every book the catalog has sent,
// so that book lists and searches can still be answered without a network.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/always-cache/octo-books/cache"
	"github.com/always-cache/octo-books/catalog"
	"github.com/rs/zerolog"
)

// ErrNoOfflineData is returned by queries when nothing has been recorded yet.
// Callers must tell it apart from an empty result page.
var ErrNoOfflineData = errors.New("no offline data")

// DocumentKey is the key of the index document within its partition.
const DocumentKey = "octo-books-index"

// Store persists the index document.
// cache.Partition implements it.
type Store interface {
	Match(key string) ([]byte, error)
	Put(key string, bytes []byte) error
}

type document struct {
	UpdatedAt time.Time      `json:"updatedAt"`
	Books     []catalog.Book `json:"books"`
}

// Index is the accreted, deduplicated set of observed books.
//
// Books are unique by id. The first observation of an id wins: later observations of
// the same id never change the stored record, even if their fields differ. This keeps
// a partial record (e.g. from a list response) from replacing a complete one at the
// cost of possibly serving stale fields while offline.
type Index struct {
	// every access goes through mu, so concurrent Record calls cannot
	// lose each other's additions in the read-modify-write of the document
	mu    sync.Mutex
	store Store
	log   zerolog.Logger
}

func NewIndex(store Store, logger *zerolog.Logger) *Index {
	var l zerolog.Logger
	if logger == nil {
		l = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		l = *logger
	}
	return &Index{
		store: store,
		log:   l.With().Str("component", "offline-index").Logger(),
	}
}

// Record merges the books into the index and returns how many were new.
func (i *Index) Record(books []catalog.Book) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	doc, err := i.load()
	if err != nil {
		return 0, err
	}
	known := make(map[catalog.BookID]struct{}, len(doc.Books))
	for _, b := range doc.Books {
		known[b.ID] = struct{}{}
	}
	added := 0
	for _, b := range books {
		if b.ID == "" {
			continue
		}
		if _, ok := known[b.ID]; ok {
			continue
		}
		known[b.ID] = struct{}{}
		doc.Books = append(doc.Books, b)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	doc.UpdatedAt = time.Now()
	if err := i.save(doc); err != nil {
		return 0, err
	}
	i.log.Trace().Int("added", added).Int("total", len(doc.Books)).Msg("Recorded observed books")
	return added, nil
}

// Query returns a page of the books whose searchable text contains the term, ignoring case.
// The searchable text is made of title, summary, long summary, authors and tags.
func (i *Index) Query(term string, page, limit int) (PagedResult, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	res, err := i.page(page, limit, func(b catalog.Book) bool {
		return strings.Contains(searchableText(b), needle)
	})
	res.Query = term
	return res, err
}

// ByTag returns a page of the books carrying the tag, ignoring case.
func (i *Index) ByTag(tag string, page, limit int) (PagedResult, error) {
	res, err := i.page(page, limit, func(b catalog.Book) bool {
		for _, t := range b.Tags {
			if strings.EqualFold(t, tag) {
				return true
			}
		}
		return false
	})
	res.Tag = tag
	return res, err
}

// Get returns the indexed record for the id.
func (i *Index) Get(id catalog.BookID) (catalog.Book, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	doc, err := i.load()
	if err != nil {
		return catalog.Book{}, false, err
	}
	for _, b := range doc.Books {
		if b.ID == id {
			return b, true, nil
		}
	}
	return catalog.Book{}, false, nil
}

// Len returns the number of indexed books.
func (i *Index) Len() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	doc, err := i.load()
	return len(doc.Books), err
}

func (i *Index) page(page, limit int, match func(catalog.Book) bool) (PagedResult, error) {
	i.mu.Lock()
	doc, err := i.load()
	i.mu.Unlock()
	if err != nil {
		return PagedResult{}, err
	}
	if len(doc.Books) == 0 {
		return PagedResult{}, ErrNoOfflineData
	}
	matches := make([]catalog.Book, 0)
	for _, b := range doc.Books {
		if match(b) {
			matches = append(matches, b)
		}
	}
	start, end := catalog.PageBounds(len(matches), page, limit)
	return PagedResult{
		Books:      matches[start:end],
		Pagination: catalog.Paginate(len(matches), page, limit),
		Offline:    true,
	}, nil
}

func (i *Index) load() (document, error) {
	var doc document
	bytes, err := i.store.Match(DocumentKey)
	if errors.Is(err, cache.ErrCacheMiss) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("load offline index: %w", err)
	}
	if err := json.Unmarshal(bytes, &doc); err != nil {
		// a corrupted document would block every future write, start over instead
		i.log.Error().Err(err).Msg("Could not decode offline index, discarding it")
		return document{}, nil
	}
	return doc, nil
}

func (i *Index) save(doc document) error {
	bytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode offline index: %w", err)
	}
	if err := i.store.Put(DocumentKey, bytes); err != nil {
		return fmt.Errorf("save offline index: %w", err)
	}
	return nil
}

func searchableText(b catalog.Book) string {
	parts := make([]string, 0, 3+len(b.Authors)+len(b.Tags))
	parts = append(parts, b.Title, b.Summary, b.LongSummary)
	parts = append(parts, b.Authors...)
	parts = append(parts, b.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}
