// Package presenter turns received push payloads into notifications
// and routes clicks on them back into the catalog UI.
package presenter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/always-cache/octo-books/catalog"
	"github.com/always-cache/octo-books/push"
	"github.com/rs/zerolog"
)

const (
	DefaultTitle = "Octo Books"
	DefaultBody  = "New book available!"
	// Tag groups book notifications so a new one replaces the previous one.
	Tag = "book-notification"

	ActionView    = "view"
	ActionDismiss = "dismiss"

	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/icon-72x72.png"
	actionIcon   = "/icons/icon-96x96.png"
)

// ErrMalformedPayload is returned by Parse for payloads that are not JSON objects.
var ErrMalformedPayload = errors.New("malformed push payload")

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type Data struct {
	URL    string         `json:"url"`
	BookID catalog.BookID `json:"bookId,omitempty"`
	Test   bool           `json:"test,omitempty"`
}

// Notification describes a system notification.
type Notification struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon"`
	Badge              string   `json:"badge"`
	Tag                string   `json:"tag"`
	Renotify           bool     `json:"renotify"`
	RequireInteraction bool     `json:"requireInteraction"`
	Actions            []Action `json:"actions"`
	Data               Data     `json:"data"`
}

// Notifier shows notifications.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
}

// Message is posted to a window to make it navigate.
type Message struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

const MessageNavigate = "NAVIGATE"

// Client is an open window of the catalog UI.
type Client interface {
	Focus(ctx context.Context) error
	PostMessage(ctx context.Context, msg Message) error
}

// Clients gives access to the windows of the catalog UI.
type Clients interface {
	// Windows returns the open windows, most recently focused first.
	Windows(ctx context.Context) ([]Client, error)
	OpenWindow(ctx context.Context, url string) error
}

// ClickResult is what handling a click did.
type ClickResult string

const (
	Closed    ClickResult = "closed"
	Navigated ClickResult = "navigated"
	Opened    ClickResult = "opened"
)

type Config struct {
	Icon  string
	Badge string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Presenter struct {
	icon  string
	badge string
	log   zerolog.Logger
}

func New(config Config) *Presenter {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	p := &Presenter{
		icon:  config.Icon,
		badge: config.Badge,
		log:   logger.With().Str("component", "presenter").Logger(),
	}
	if p.icon == "" {
		p.icon = DefaultIcon
	}
	if p.badge == "" {
		p.badge = DefaultBadge
	}
	return p
}

// Parse decodes a push payload.
func Parse(data []byte) (push.Payload, error) {
	var p push.Payload
	if len(data) == 0 {
		return p, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return p, nil
}

// Present builds the notification for a push payload.
// It never fails: missing or malformed payloads get the default title and body.
func (p *Presenter) Present(data []byte) Notification {
	payload, err := Parse(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("Showing default notification")
		payload = push.Payload{}
	}
	if payload.Title == "" {
		payload.Title = DefaultTitle
	}
	if payload.Body == "" {
		payload.Body = DefaultBody
	}
	icon, badge := payload.Icon, payload.Badge
	if icon == "" {
		icon = p.icon
	}
	if badge == "" {
		badge = p.badge
	}
	return Notification{
		Title:    payload.Title,
		Body:     payload.Body,
		Icon:     icon,
		Badge:    badge,
		Tag:      Tag,
		Renotify: true,
		Actions:  actions(),
		Data: Data{
			URL:    payload.URL,
			BookID: payload.BookID,
		},
	}
}

// Test returns a notification for checking that notifications are shown at all.
func (p *Presenter) Test() Notification {
	return Notification{
		Title:   "Test - New book!",
		Body:    "This is a test notification for a new book.",
		Icon:    p.icon,
		Badge:   p.badge,
		Tag:     "test-notification",
		Actions: actions(),
		Data:    Data{URL: "/books", Test: true},
	}
}

func actions() []Action {
	return []Action{
		{Action: ActionView, Title: "View book", Icon: actionIcon},
		{Action: ActionDismiss, Title: "Dismiss"},
	}
}

// Click handles a click on a notification or one of its actions.
// Dismissing does nothing else. Any other click navigates an open window,
// focusing it, or opens a new window when none is open. Never both.
func (p *Presenter) Click(ctx context.Context, clients Clients, n Notification, action string) (ClickResult, error) {
	if action == ActionDismiss {
		return Closed, nil
	}
	url := push.TargetURL(n.Data.URL, n.Data.BookID)
	windows, err := clients.Windows(ctx)
	if err != nil {
		return Closed, fmt.Errorf("list windows: %w", err)
	}
	if len(windows) == 0 {
		if err := clients.OpenWindow(ctx, url); err != nil {
			return Closed, fmt.Errorf("open window: %w", err)
		}
		p.log.Debug().Str("url", url).Msg("Opened window")
		return Opened, nil
	}
	w := windows[0]
	if err := w.Focus(ctx); err != nil {
		return Closed, fmt.Errorf("focus window: %w", err)
	}
	if err := w.PostMessage(ctx, Message{Type: MessageNavigate, URL: url}); err != nil {
		return Closed, fmt.Errorf("post navigation: %w", err)
	}
	p.log.Debug().Str("url", url).Msg("Navigated window")
	return Navigated, nil
}
