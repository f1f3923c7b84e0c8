package octobooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/always-cache/octo-books/catalog"
	"github.com/always-cache/octo-books/classify"
	"github.com/always-cache/octo-books/offline"
	cachestatus "github.com/always-cache/octo-books/pkg/cache-status"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="300" viewBox="0 0 200 300">` +
	`<rect width="200" height="300" fill="#f3f4f6"/>` +
	`<text x="100" y="150" font-family="sans-serif" font-size="14" fill="#9ca3af" text-anchor="middle">Image unavailable</text>` +
	`</svg>`

// OfflineMessage is the message of the structured offline response.
const OfflineMessage = "You are offline and no cached data is available for this request."

// offlineBody is the body of the structured offline response.
type offlineBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Offline bool   `json:"offline"`
}

// recordBooks adds the books of a list or search response to the offline index.
// The response body stays readable.
func (o *OctoBooks) recordBooks(req *request, res *http.Response) {
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	res.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		req.log.Error().Err(err).Msg("Could not read book list")
		return
	}
	var list catalog.BookList
	if err := json.Unmarshal(body, &list); err != nil {
		req.log.Warn().Err(err).Msg("Could not decode book list, not indexing")
		return
	}
	if _, err := o.index.Record(list.Books); err != nil {
		req.log.Error().Err(err).Msg("Could not record books for offline use")
	}
}

// offlineResponse answers a book query from the offline index.
// When the index is empty or cannot be read, the structured offline response is returned.
func (o *OctoBooks) offlineResponse(req *request) *http.Response {
	page, limit := catalog.PageParams(req.r.URL.Query())
	var (
		res offline.PagedResult
		err error
	)
	switch {
	case req.class == classify.BookSearch:
		res, err = o.index.Query(catalog.SearchTerm(req.r.URL), page, limit)
	case catalog.TagName(req.r.URL) != "":
		res, err = o.index.ByTag(catalog.TagName(req.r.URL), page, limit)
	default:
		res, err = o.index.Query("", page, limit)
	}
	if err != nil {
		if !errors.Is(err, offline.ErrNoOfflineData) {
			req.log.Error().Err(err).Msg("Could not query offline index")
		}
		req.status.Detail = cachestatus.DetailNoData
		return jsonResponse(req.r, http.StatusServiceUnavailable, offlineBody{
			Error:   "offline",
			Message: OfflineMessage,
			Offline: true,
		})
	}
	req.status.Detail = cachestatus.DetailOffline
	return jsonResponse(req.r, http.StatusOK, res)
}

// offlineBook answers a book detail request with the indexed record of the book.
func (o *OctoBooks) offlineBook(req *request) (*http.Response, bool) {
	id := catalog.DetailID(req.r.URL)
	if id == "" {
		return nil, false
	}
	book, ok, err := o.index.Get(id)
	if err != nil {
		req.log.Error().Err(err).Msg("Could not read offline index")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return jsonResponse(req.r, http.StatusOK, offline.BookResult{Book: book, Offline: true}), true
}

func jsonResponse(r *http.Request, status int, v any) *http.Response {
	body, err := json.Marshal(v)
	if err != nil {
		// all marshalled types are plain structs
		panic(err)
	}
	res := newResponse(r, status, body)
	res.Header.Set("Content-Type", "application/json")
	return res
}

func placeholderResponse(r *http.Request) *http.Response {
	res := newResponse(r, http.StatusOK, []byte(placeholderSVG))
	res.Header.Set("Content-Type", "image/svg+xml")
	res.Header.Set("Cache-Control", "public, max-age=31536000")
	return res
}

func newResponse(r *http.Request, status int, body []byte) *http.Response {
	header := http.Header{}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
