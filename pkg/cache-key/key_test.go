package cachekey

import (
	"net/http"
	"testing"
)

func TestKeyIncludesQuery(t *testing.T) {
	keygen := NewCacheKeyer()
	r, _ := http.NewRequest("GET", "/api/books?page=2&limit=10", nil)
	if key := keygen.GetKey(r); key != "GET:/api/books?page=2&limit=10" {
		t.Fatalf("Key is %s", key)
	}
}

func TestKeyKeepsForeignOrigin(t *testing.T) {
	keygen := NewCacheKeyer()
	r, _ := http.NewRequest("GET", "https://octo-books.ln1.eu/images/cover.png", nil)
	if key := keygen.GetKey(r); key != "GET:https://octo-books.ln1.eu/images/cover.png" {
		t.Fatalf("Key is %s", key)
	}
}

func TestKeyRelevantHeaders(t *testing.T) {
	keygen := NewCacheKeyer("accept-language")
	en, _ := http.NewRequest("GET", "/api/tags", nil)
	en.Header.Set("Accept-Language", "en")
	fr, _ := http.NewRequest("GET", "/api/tags", nil)
	fr.Header.Set("Accept-Language", "fr")
	if keygen.GetKey(en) == keygen.GetKey(fr) {
		t.Fatalf("Keys for different languages are equal: %s", keygen.GetKey(en))
	}
	// headers that are not relevant do not change the key
	fr.Header.Set("User-Agent", "test")
	fr2, _ := http.NewRequest("GET", "/api/tags", nil)
	fr2.Header.Set("Accept-Language", "fr")
	if keygen.GetKey(fr) != keygen.GetKey(fr2) {
		t.Fatalf("Irrelevant header changed key %s", keygen.GetKey(fr))
	}
}
