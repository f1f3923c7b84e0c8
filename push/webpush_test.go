package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// browserSubscription creates the keys a browser would generate for a subscription.
func browserSubscription(t *testing.T, endpoint string) Subscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return Subscription{
		Endpoint: endpoint,
		P256dh:   base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:     base64.RawURLEncoding.EncodeToString(auth),
	}
}

func TestWebPushSender(t *testing.T) {
	var gotAuth, gotEncoding, gotTTL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotEncoding = r.Header.Get("Content-Encoding")
		gotTTL = r.Header.Get("TTL")
		switch {
		case strings.HasSuffix(r.URL.Path, "/gone"):
			w.WriteHeader(http.StatusGone)
		case strings.HasSuffix(r.URL.Path, "/missing"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/busy"):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	keys, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	sender := NewWebPushSender(keys, "mailto:admin@octobooks.com", 0, srv.Client())
	ctx := context.Background()
	payload := []byte(`{"title":"New book","body":"Out now","url":"/books"}`)

	err = sender.Send(ctx, browserSubscription(t, srv.URL+"/push/ok"), payload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(gotAuth, "vapid t="), gotAuth)
	assert.Equal(t, "aes128gcm", gotEncoding)
	assert.Equal(t, "86400", gotTTL)

	err = sender.Send(ctx, browserSubscription(t, srv.URL+"/push/gone"), payload)
	assert.ErrorIs(t, err, ErrEndpointGone)
	err = sender.Send(ctx, browserSubscription(t, srv.URL+"/push/missing"), payload)
	assert.ErrorIs(t, err, ErrEndpointGone)

	err = sender.Send(ctx, browserSubscription(t, srv.URL+"/push/busy"), payload)
	assert.ErrorIs(t, err, ErrEndpointTransient)
	assert.NotErrorIs(t, err, ErrEndpointGone)
}

func TestWebPushSenderUnreachable(t *testing.T) {
	keys, err := GenerateVAPIDKeys()
	require.NoError(t, err)
	sender := NewWebPushSender(keys, "mailto:admin@octobooks.com", 60, nil)

	err = sender.Send(context.Background(), browserSubscription(t, "http://127.0.0.1:1/push"), []byte("{}"))
	assert.ErrorIs(t, err, ErrEndpointTransient)
}
