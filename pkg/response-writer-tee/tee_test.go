package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSaverRecordsResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	rs := NewResponseSaver(rec)
	rs.Header().Set("Content-Type", "application/json")
	rs.WriteHeader(http.StatusCreated)
	rs.Write([]byte(`{"ok":true}`))

	res, err := rs.HTTPResponse(httptest.NewRequest("GET", "/api/tags", nil))
	if err != nil {
		t.Fatalf("Could not parse saved response: %v", err)
	}
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %s", ct)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != `{"ok":true}` {
		t.Fatalf("Body is %s", body)
	}
	// the underlying writer got the same response
	if rec.Code != http.StatusCreated || rec.Body.String() != `{"ok":true}` {
		t.Fatalf("Tee'd response is %d %s", rec.Code, rec.Body.String())
	}
}

func TestSaverWithoutWrites(t *testing.T) {
	rs := NewResponseSaver(nil)
	res, err := rs.HTTPResponse(nil)
	if err != nil {
		t.Fatalf("Could not parse saved response: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Status is %d", res.StatusCode)
	}
}
