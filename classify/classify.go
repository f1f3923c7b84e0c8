// Package classify maps outgoing requests to the resource class that decides
// how the offline cache treats them.
package classify

import (
	"net/http"
	"path"
	"regexp"
	"strings"
)

// Class is the resource class of a request.
type Class string

const (
	// The request is not intercepted at all (not an error).
	Bypass Class = "bypass"
	// Images, served cache-first with a placeholder fallback.
	Image Class = "image"
	// Book search results, /api/books/search/{term}.
	BookSearch Class = "book-search"
	// Book lists, /api/books and /api/books/tag/{tag}.
	BookList Class = "book-list"
	// A single book, /api/books/{id}.
	BookDetail Class = "book-detail"
	// Any other API call.
	API Class = "api"
	// Everything else: the app shell and its assets.
	Static Class = "static"
)

var (
	bookDetailPath = regexp.MustCompile(`^/api/books/\d+$`)

	// DefaultImageExtensions are the path suffixes treated as images.
	DefaultImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif"}
	// DefaultImagePrefixes are the host+path prefixes of the remote book cover stores.
	DefaultImagePrefixes = []string{
		"octo-books.ln1.eu/images/",
		"www.octo.com/assets/publications-categories-images/",
	}
)

// Classifier holds the image detection configuration.
// The zero value uses the defaults.
type Classifier struct {
	ImageExtensions []string
	ImagePrefixes   []string
}

var defaultClassifier = Classifier{}

// Classify classifies the request with the default image configuration.
func Classify(r *http.Request) Class {
	return defaultClassifier.Classify(r)
}

// Classify returns the resource class of the request.
// It is a pure function of method, scheme, host, path and the Sec-Fetch-Dest header.
func (c Classifier) Classify(r *http.Request) Class {
	if r.Method != http.MethodGet {
		return Bypass
	}
	if !supportedScheme(r.URL.Scheme) {
		return Bypass
	}
	p := r.URL.Path
	if c.isImage(r) {
		return Image
	}
	if strings.HasPrefix(p, "/api/books/search/") {
		return BookSearch
	}
	if p == "/api/books" || strings.HasPrefix(p, "/api/books/tag/") {
		return BookList
	}
	if bookDetailPath.MatchString(p) {
		return BookDetail
	}
	if strings.HasPrefix(p, "/api/") {
		return API
	}
	return Static
}

// supportedScheme reports whether requests with the scheme may be intercepted.
// Server-side requests have no scheme set, those are plain http.
func supportedScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "", "http", "https":
		return true
	}
	return false
}

func (c Classifier) isImage(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Dest"), "image") {
		return true
	}
	exts := c.ImageExtensions
	if exts == nil {
		exts = DefaultImageExtensions
	}
	ext := strings.ToLower(path.Ext(r.URL.Path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	prefixes := c.ImagePrefixes
	if prefixes == nil {
		prefixes = DefaultImagePrefixes
	}
	hostPath := r.URL.Host + r.URL.Path
	if hostPath == r.URL.Path && r.Host != "" {
		hostPath = r.Host + r.URL.Path
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(hostPath, prefix) {
			return true
		}
	}
	return false
}
