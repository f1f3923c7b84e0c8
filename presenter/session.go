package presenter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnsupported      = errors.New("push notifications are not supported")
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrSessionClosed is returned by every call after Close.
	ErrSessionClosed = errors.New("push session closed")
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// BrowserSubscription is a subscription as the browser serializes it.
type BrowserSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushManager is the browser's push platform.
type PushManager interface {
	Supported() bool
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	// Subscription returns the existing subscription, or nil.
	Subscription(ctx context.Context) (*BrowserSubscription, error)
	Subscribe(ctx context.Context, applicationServerKey []byte) (*BrowserSubscription, error)
	Unsubscribe(ctx context.Context, sub *BrowserSubscription) (bool, error)
}

// State is the push state of a page.
type State struct {
	Supported    bool
	Permission   Permission
	Subscribed   bool
	Subscription *BrowserSubscription
	Loading      bool
	Err          error
}

type SessionConfig struct {
	Manager PushManager
	// Shows test notifications. Optional.
	Notifier Notifier
	// Base URL of the catalog, e.g. "https://octo-books.example.com".
	BaseURL   string
	Client    *http.Client
	UserAgent string
}

// Session is the push state of one page. It lives as long as the page
// and must be closed when the page is left.
type Session struct {
	mu        sync.Mutex
	manager   PushManager
	notifier  Notifier
	baseURL   string
	client    *http.Client
	userAgent string
	state     State
	closed    bool
}

func NewSession(config SessionConfig) *Session {
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Session{
		manager:   config.Manager,
		notifier:  config.Notifier,
		baseURL:   strings.TrimSuffix(config.BaseURL, "/"),
		client:    client,
		userAgent: config.UserAgent,
		state:     State{Permission: PermissionDefault},
	}
}

// State returns a snapshot of the state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize checks support and permission and picks up an existing subscription.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.state.Supported = s.manager.Supported()
	if !s.state.Supported {
		return nil
	}
	s.state.Permission = s.manager.Permission()
	sub, err := s.manager.Subscription(ctx)
	if err != nil {
		// no usable subscription, the user can subscribe again
		sub = nil
	}
	s.state.Subscription = sub
	s.state.Subscribed = sub != nil
	return nil
}

// RequestPermission asks the user for permission to show notifications.
func (s *Session) RequestPermission(ctx context.Context) (Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.requestPermission(ctx)
}

func (s *Session) requestPermission(ctx context.Context) (Permission, error) {
	if !s.state.Supported {
		return "", ErrUnsupported
	}
	p, err := s.manager.RequestPermission(ctx)
	if err != nil {
		s.state.Err = err
		return "", fmt.Errorf("request permission: %w", err)
	}
	s.state.Permission = p
	return p, nil
}

func (s *Session) ensurePermission(ctx context.Context) error {
	if s.state.Permission == PermissionGranted {
		return nil
	}
	p, err := s.requestPermission(ctx)
	if err != nil {
		return err
	}
	if p != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

// Subscribe subscribes the browser with the catalog's VAPID key and registers the subscription.
func (s *Session) Subscribe(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.state.Supported {
		return ErrUnsupported
	}
	if err := s.ensurePermission(ctx); err != nil {
		return err
	}

	s.state.Loading = true
	s.state.Err = nil
	defer func() {
		s.state.Loading = false
		if err != nil {
			s.state.Err = err
			s.state.Subscribed = false
		}
	}()

	var key struct {
		PublicKey string `json:"publicKey"`
	}
	if err := s.do(ctx, http.MethodGet, "/api/push/vapid-public-key", nil, &key); err != nil {
		return fmt.Errorf("get vapid key: %w", err)
	}
	serverKey, err := decodeKey(key.PublicKey)
	if err != nil {
		return fmt.Errorf("decode vapid key: %w", err)
	}
	sub, err := s.manager.Subscribe(ctx, serverKey)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	body := map[string]any{
		"subscription": sub,
		"userAgent":    s.userAgent,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.do(ctx, http.MethodPost, "/api/push/subscribe", body, nil); err != nil {
		return fmt.Errorf("register subscription: %w", err)
	}
	s.state.Subscription = sub
	s.state.Subscribed = true
	return nil
}

// Unsubscribe removes the subscription from the browser and from the catalog.
// Unsubscribing without a subscription succeeds.
func (s *Session) Unsubscribe(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	sub := s.state.Subscription
	if sub == nil {
		return nil
	}

	s.state.Loading = true
	s.state.Err = nil
	defer func() {
		s.state.Loading = false
		if err != nil {
			s.state.Err = err
		}
	}()

	ok, err := s.manager.Unsubscribe(ctx, sub)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if !ok {
		return nil
	}
	body := map[string]any{"subscription": sub}
	if err := s.do(ctx, http.MethodPost, "/api/push/unsubscribe", body, nil); err != nil {
		return fmt.Errorf("unregister subscription: %w", err)
	}
	s.state.Subscription = nil
	s.state.Subscribed = false
	return nil
}

// TestNotification shows a local test notification.
func (s *Session) TestNotification(ctx context.Context, p *Presenter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.notifier == nil {
		return ErrUnsupported
	}
	if err := s.ensurePermission(ctx); err != nil {
		return err
	}
	return s.notifier.ShowNotification(ctx, p.Test())
}

func (s *Session) CanSubscribe() bool {
	st := s.State()
	return st.Supported && st.Permission != PermissionDenied && !st.Subscribed
}

func (s *Session) CanUnsubscribe() bool {
	st := s.State()
	return st.Supported && st.Subscribed
}

func (s *Session) PermissionDenied() bool {
	return s.State().Permission == PermissionDenied
}

// Close tears the session down.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, &body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// decodeKey decodes a base64url key, with or without padding.
func decodeKey(key string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
}
