package push

import (
	"context"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// DefaultTTL is how long push services keep undelivered notifications, in seconds.
const DefaultTTL = 24 * 60 * 60

// VAPIDKeys is a VAPID key pair, base64url encoded.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
}

// GenerateVAPIDKeys creates a new key pair for signing push requests.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("generate vapid keys: %w", err)
	}
	return VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// WebPushSender delivers notifications through the Web Push protocol.
type WebPushSender struct {
	keys VAPIDKeys
	// Contact of the application server, a mailto: or https: URL.
	subject string
	ttl     int
	client  *http.Client
}

// NewWebPushSender creates a sender. A ttl of 0 means DefaultTTL, a nil client the default client.
func NewWebPushSender(keys VAPIDKeys, subject string, ttl int, client *http.Client) *WebPushSender {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushSender{
		keys:    keys,
		subject: subject,
		ttl:     ttl,
		client:  client,
	}
}

func (s *WebPushSender) Send(ctx context.Context, sub Subscription, payload []byte) error {
	res, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Auth,
			P256dh: sub.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subject,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             s.ttl,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEndpointTransient, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: push service answered %d", ErrEndpointGone, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("%w: push service answered %d", ErrEndpointTransient, res.StatusCode)
	}
	return nil
}
