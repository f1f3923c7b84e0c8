package push

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/always-cache/octo-books/catalog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnauthorized is returned when the dispatch credential does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidPayload is returned when a notification lacks a title or a body.
	ErrInvalidPayload = errors.New("title and body are required")
	// ErrEndpointGone is wrapped by senders when the push service reports the endpoint
	// as permanently invalid. The subscription is removed.
	ErrEndpointGone = errors.New("push endpoint gone")
	// ErrEndpointTransient is wrapped by senders for every other delivery failure.
	// The subscription is kept.
	ErrEndpointTransient = errors.New("push delivery failed")
)

const (
	PasswordHeader = "X-Notification-Password"
	bearerPrefix   = "Bearer "
)

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

// Notification is a notification as requested by the caller of the dispatcher.
type Notification struct {
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	BookID catalog.BookID `json:"bookId,omitempty"`
	URL    string         `json:"url,omitempty"`
}

// Payload is what subscribers receive.
type Payload struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	BookID    catalog.BookID `json:"bookId,omitempty"`
	URL       string         `json:"url"`
	Icon      string         `json:"icon,omitempty"`
	Badge     string         `json:"badge,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// TargetURL returns the page a notification opens: the explicit url,
// else the detail page of the book, else the book list.
func TargetURL(url string, bookID catalog.BookID) string {
	if url != "" {
		return url
	}
	if bookID != "" {
		return "/books/" + string(bookID)
	}
	return "/books"
}

type Results struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Pruned     int       `json:"pruned"`
	Failures   []Failure `json:"failures,omitempty"`
}

type Failure struct {
	// Truncated, see TruncateEndpoint
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
	Gone     bool   `json:"gone"`
}

type DispatcherConfig struct {
	Registry Registry
	Sender   Sender
	// Password guarding dispatches. If empty, every dispatch is rejected.
	Password string
	// Icon and badge shown with notifications.
	Icon  string
	Badge string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Dispatcher fans notifications out to every subscription.
type Dispatcher struct {
	registry Registry
	sender   Sender
	password []byte
	icon     string
	badge    string
	log      zerolog.Logger
}

func NewDispatcher(config DispatcherConfig) *Dispatcher {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	return &Dispatcher{
		registry: config.Registry,
		sender:   config.Sender,
		password: []byte(config.Password),
		icon:     config.Icon,
		badge:    config.Badge,
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
}

// TokenFromRequest returns the dispatch credential of a request: the password header,
// else the authorization header without its optional bearer prefix.
func TokenFromRequest(r *http.Request) string {
	if token := r.Header.Get(PasswordHeader); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), bearerPrefix)
}

// Authorize checks the dispatch credential in constant time.
func (d *Dispatcher) Authorize(token string) error {
	if len(d.password) == 0 || subtle.ConstantTimeCompare(d.password, []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Dispatch delivers the notification to every subscription concurrently
// and returns once every delivery has settled.
// Subscriptions whose endpoint is gone are removed from the registry.
// Nothing is delivered when the credential or the notification is rejected.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, token string) (Results, error) {
	if err := d.Authorize(token); err != nil {
		d.log.Warn().Msg("Rejected unauthorized dispatch")
		return Results{}, err
	}
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Body) == "" {
		return Results{}, ErrInvalidPayload
	}

	payload, err := json.Marshal(Payload{
		Title:     n.Title,
		Body:      n.Body,
		BookID:    n.BookID,
		URL:       TargetURL(n.URL, n.BookID),
		Icon:      d.icon,
		Badge:     d.badge,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return Results{}, fmt.Errorf("encode payload: %w", err)
	}

	subs, err := d.registry.List(ctx)
	if err != nil {
		return Results{}, fmt.Errorf("load subscriptions: %w", err)
	}

	// a started dispatch runs to completion for every endpoint
	ctx = context.WithoutCancel(ctx)
	failures := make([]*Failure, len(subs))
	var g errgroup.Group
	for i, sub := range subs {
		g.Go(func() error {
			failures[i] = d.deliver(ctx, sub, payload)
			return nil
		})
	}
	g.Wait()

	results := Results{Total: len(subs)}
	for _, f := range failures {
		if f == nil {
			results.Successful++
			continue
		}
		results.Failed++
		if f.Gone {
			results.Pruned++
		}
		results.Failures = append(results.Failures, *f)
	}
	d.log.Info().
		Int("total", results.Total).
		Int("successful", results.Successful).
		Int("failed", results.Failed).
		Int("pruned", results.Pruned).
		Msg("Dispatched notification")
	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub Subscription, payload []byte) *Failure {
	err := d.sender.Send(ctx, sub, payload)
	if err == nil {
		d.log.Trace().Str("endpoint", TruncateEndpoint(sub.Endpoint)).Msg("Delivered notification")
		return nil
	}
	f := &Failure{
		Endpoint: TruncateEndpoint(sub.Endpoint),
		Error:    err.Error(),
	}
	if !errors.Is(err, ErrEndpointGone) {
		d.log.Warn().Err(err).Str("endpoint", f.Endpoint).Msg("Could not deliver notification")
		return f
	}
	f.Gone = true
	if _, err := d.registry.Remove(ctx, sub.Endpoint); err != nil {
		d.log.Error().Err(err).Str("endpoint", f.Endpoint).Msg("Could not remove gone subscription")
	} else {
		d.log.Info().Str("endpoint", f.Endpoint).Msg("Removed gone subscription")
	}
	return f
}
