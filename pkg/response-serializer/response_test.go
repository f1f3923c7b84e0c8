package serializer

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestResponseToBytesBodyIntact(t *testing.T) {
	response := `HTTP/1.1 200 OK
Server: Test

This is the body`

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		panic(err)
	}

	_, err = responseToBytes(res)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("Error: %v", err)
	}
	if fmt.Sprintf("%s", body) != "This is the body" {
		t.Fatalf("Body: %s", body)
	}
}

func TestTimedResponseSerialization(t *testing.T) {
	res := http.Response{
		StatusCode: 201,
		Header:     map[string][]string{},
		Body:       io.NopCloser(strings.NewReader(`{"books":[]}`)),
	}
	res.Header.Add("Test", "-ing")
	storedAt := time.Unix(1700000000, 0)
	bts, err := StoredResponseToBytes(TimedResponse{
		Response: &res,
		StoredAt: storedAt,
	})
	if err != nil {
		t.Fatalf("Error creating bytes: %+v", err)
	}
	if res.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Stored-at header left on original response %+v", res.Header)
	}
	// deserialize
	res2, err := BytesToStoredResponse(bts, nil)
	if err != nil {
		t.Fatalf("Error creating response: %+v", err)
	}
	// check header, status, time and body
	if res2.Response.Header.Get("Test") != "-ing" {
		t.Fatalf("Test header wrong %+v", res2.Response.Header)
	}
	if res2.Response.Header.Get(storedAtHeaderName) != "" {
		t.Fatalf("Wrong amount of headers %+v", res2.Response.Header)
	}
	if res2.Response.StatusCode != 201 {
		t.Fatalf("Status is %d", res2.Response.StatusCode)
	}
	if !res2.StoredAt.Equal(storedAt) {
		t.Fatalf("Stored at %v", res2.StoredAt)
	}
	body, _ := io.ReadAll(res2.Response.Body)
	if string(body) != `{"books":[]}` {
		t.Fatalf("Body: %s", body)
	}
}
