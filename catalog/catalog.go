// Package catalog contains the wire types of the book catalog API.
// The API itself is not implemented here; the offline cache only reads its responses.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPage is the page the catalog serves when none is requested.
	DefaultPage = 1
	// DefaultLimit is the page size the catalog serves when none is requested.
	DefaultLimit = 10
	// MaxLimit is the largest page size served. Larger limits are clamped.
	MaxLimit = 100
)

// BookID is the identifier of a book.
// The flat-file API sends ids as strings, the SQL-backed one as numbers.
type BookID string

func (id *BookID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = BookID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("book id: %w", err)
	}
	*id = BookID(n.String())
	return nil
}

// Book is a book as returned by the list, tag, search and detail endpoints.
// LongSummary is only present on the detail endpoint.
type Book struct {
	ID          BookID   `json:"id"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Summary     string   `json:"summary"`
	LongSummary string   `json:"longSummary,omitempty"`
	Thumbnail   string   `json:"thumbnail"`
	Tags        []string `json:"tags"`
	Available   bool     `json:"disponible"`
}

// Pagination is the pagination block of list responses.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalBooks  int  `json:"totalBooks"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

// BookList is the body of GET /api/books, /api/books/tag/{tag} and /api/books/search/{term}.
type BookList struct {
	Books      []Book     `json:"books"`
	Tag        string     `json:"tag,omitempty"`
	Query      string     `json:"query,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// Paginate computes the pagination block for a page of a result set.
func Paginate(total, page, limit int) Pagination {
	page, limit = normalize(page, limit)
	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalBooks:  total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
}

// PageBounds returns the slice bounds of a page within a result set of the given size.
func PageBounds(total, page, limit int) (int, int) {
	page, limit = normalize(page, limit)
	// page may be anything up to MaxInt, so check before multiplying
	start := total
	if page-1 <= total/limit {
		start = min((page-1)*limit, total)
	}
	end := total
	if total-start > limit {
		end = start + limit
	}
	return start, end
}

func normalize(page, limit int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// PageParams reads the page and limit query parameters, falling back to the catalog defaults.
func PageParams(q url.Values) (int, int) {
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		page = DefaultPage
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = DefaultLimit
	}
	return normalize(page, limit)
}

// SearchTerm extracts the decoded term of a /api/books/search/{term} path.
func SearchTerm(u *url.URL) string {
	return lastSegment(u, "/api/books/search/")
}

// TagName extracts the decoded tag of a /api/books/tag/{tag} path.
func TagName(u *url.URL) string {
	return lastSegment(u, "/api/books/tag/")
}

// DetailID extracts the id of a /api/books/{id} path.
func DetailID(u *url.URL) BookID {
	id := lastSegment(u, "/api/books/")
	if strings.Contains(id, "/") {
		return ""
	}
	return BookID(id)
}

func lastSegment(u *url.URL, prefix string) string {
	p := u.Path
	if !strings.HasPrefix(p, prefix) {
		return ""
	}
	return strings.TrimPrefix(p, prefix)
}
