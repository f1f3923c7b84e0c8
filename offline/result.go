package offline

import "github.com/always-cache/octo-books/catalog"

// PagedResult is a page of offline results.
// It has the shape of the catalog's list responses plus the offline marker,
// so clients can render it with the same code and show an offline banner.
type PagedResult struct {
	Books      []catalog.Book     `json:"books"`
	Query      string             `json:"query,omitempty"`
	Tag        string             `json:"tag,omitempty"`
	Pagination catalog.Pagination `json:"pagination"`
	Offline    bool               `json:"offline"`
}

// BookResult is a book detail answered from the index.
type BookResult struct {
	catalog.Book
	Offline bool `json:"offline"`
}
