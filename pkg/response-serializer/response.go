package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Octo-Stored-At"

type TimedResponse struct {
	Response *http.Response
	// The value of the clock when the response was written to the cache.
	StoredAt time.Time
}

// BytesToStoredResponse reads a response previously serialized with StoredResponseToBytes.
// The request, if given, is attached to the returned response.
func BytesToStoredResponse(b []byte, req *http.Request) (TimedResponse, error) {
	sRes := TimedResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, fmt.Errorf("read stored response: %w", err)
	}
	sRes.Response = res
	if storedAt, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedAt, 0)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// StoredResponseToBytes serializes the response in HTTP/1.1 wire format.
// The response body is read completely and replaced with an equal, unread body,
// so the response can still be sent to the client afterwards.
func StoredResponseToBytes(sRes TimedResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header so it does not leak to the client
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	var body []byte
	if res.Body != nil {
		var err error
		body, err = io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
	}
	// set response body back
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil

	// write response to buffer with a fixed length body
	clone := *res
	clone.ProtoMajor, clone.ProtoMinor = 1, 1
	clone.Body = io.NopCloser(bytes.NewReader(body))
	buf := &bytes.Buffer{}
	if err := clone.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	return buf.Bytes(), nil
}
