// Package worker runs the offline cache as an event-driven worker:
// every lifecycle, network, push and message event is routed through one handler table.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	octobooks "github.com/always-cache/octo-books"
	"github.com/always-cache/octo-books/cache"
	"github.com/always-cache/octo-books/presenter"
	"github.com/rs/zerolog"
)

type EventKind string

const (
	Install           EventKind = "install"
	Activate          EventKind = "activate"
	Fetch             EventKind = "fetch"
	Push              EventKind = "push"
	NotificationClick EventKind = "notificationclick"
	Message           EventKind = "message"
)

// MessageSkipWaiting makes a waiting worker activate immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// ErrUnhandledEvent is returned for events without a handler.
var ErrUnhandledEvent = errors.New("unhandled event")

// Event is something the worker reacts to.
type Event struct {
	Kind EventKind
	// Fetch
	Request *http.Request
	// Push and message
	Data []byte
	// Notification click
	Notification presenter.Notification
	Action       string
}

// Handler handles one kind of event and returns its value:
// octobooks.Result for fetch, presenter.Notification for push,
// presenter.ClickResult for notificationclick, the deleted partitions for activate.
type Handler func(ctx context.Context, e Event) (any, error)

// State is the lifecycle state of the worker.
type State string

const (
	StateNew       State = "new"
	StateInstalled State = "installed"
	StateActive    State = "active"
)

// DefaultPrecache are the app shell assets stored on install.
var DefaultPrecache = []string{"/", "/index.html", "/manifest.json"}

type Config struct {
	Cache     *octobooks.OctoBooks
	Presenter *presenter.Presenter
	// Shows notifications on push events. Optional.
	Notifier presenter.Notifier
	// The windows of the UI, for notification clicks. Optional.
	Clients presenter.Clients
	// Paths stored in the static partition on install. DefaultPrecache if nil.
	Precache []string
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Worker struct {
	cache     *octobooks.OctoBooks
	presenter *presenter.Presenter
	notifier  presenter.Notifier
	clients   presenter.Clients
	precache  []string
	handlers  map[EventKind]Handler
	log       zerolog.Logger

	// guards handlers and state
	mu    sync.Mutex
	state State
}

func New(config Config) *Worker {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	w := &Worker{
		cache:     config.Cache,
		presenter: config.Presenter,
		notifier:  config.Notifier,
		clients:   config.Clients,
		precache:  config.Precache,
		log:       logger.With().Str("component", "worker").Logger(),
		state:     StateNew,
	}
	if w.precache == nil {
		w.precache = DefaultPrecache
	}
	if w.presenter == nil {
		w.presenter = presenter.New(presenter.Config{Logger: config.Logger})
	}
	w.handlers = map[EventKind]Handler{
		Install:           w.install,
		Activate:          w.activate,
		Fetch:             w.fetch,
		Push:              w.push,
		NotificationClick: w.notificationClick,
		Message:           w.message,
	}
	return w
}

// Handle replaces the handler of an event kind.
func (w *Worker) Handle(kind EventKind, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

// Dispatch runs the handler of the event's kind.
func (w *Worker) Dispatch(ctx context.Context, e Event) (any, error) {
	w.mu.Lock()
	h, ok := w.handlers[e.Kind]
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, e.Kind)
	}
	w.log.Trace().Str("event", string(e.Kind)).Msg("Dispatching event")
	return h(ctx, e)
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start installs and activates the worker.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.Dispatch(ctx, Event{Kind: Install}); err != nil {
		return err
	}
	_, err := w.Dispatch(ctx, Event{Kind: Activate})
	return err
}

// ServeHTTP turns requests into fetch events.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	v, err := w.Dispatch(r.Context(), Event{Kind: Fetch, Request: r})
	result, ok := v.(octobooks.Result)
	if err == nil && (!ok || result.Response == nil) {
		err = fmt.Errorf("%w: fetch handler returned no response", octobooks.ErrNetworkUnavailable)
	}
	w.cache.Respond(rw, r, result, err)
}

func (w *Worker) install(ctx context.Context, e Event) (any, error) {
	if err := w.cache.Precache(ctx, w.precache); err != nil {
		return nil, fmt.Errorf("install: %w", err)
	}
	w.mu.Lock()
	w.state = StateInstalled
	w.mu.Unlock()
	static := w.cache.Partitions().Partition(cache.Static)
	keys, err := static.Keys()
	if err != nil {
		w.log.Warn().Err(err).Str("partition", static.Name).Msg("Could not list static entries")
	}
	w.log.Info().Int("entries", len(keys)).Str("partition", static.Name).Msg("Installed")
	return nil, nil
}

func (w *Worker) activate(ctx context.Context, e Event) (any, error) {
	deleted, err := w.cache.Partitions().Activate()
	for _, name := range deleted {
		w.log.Info().Str("partition", name).Msg("Deleted old partition")
	}
	if err != nil {
		return deleted, fmt.Errorf("activate: %w", err)
	}
	w.mu.Lock()
	w.state = StateActive
	w.mu.Unlock()
	return deleted, nil
}

func (w *Worker) fetch(ctx context.Context, e Event) (any, error) {
	if e.Request == nil {
		return nil, errors.New("fetch event without request")
	}
	return w.cache.Fetch(e.Request)
}

func (w *Worker) push(ctx context.Context, e Event) (any, error) {
	n := w.presenter.Present(e.Data)
	if w.notifier != nil {
		if err := w.notifier.ShowNotification(ctx, n); err != nil {
			return n, fmt.Errorf("show notification: %w", err)
		}
	}
	return n, nil
}

func (w *Worker) notificationClick(ctx context.Context, e Event) (any, error) {
	if w.clients == nil {
		return presenter.Closed, nil
	}
	return w.presenter.Click(ctx, w.clients, e.Notification, e.Action)
}

func (w *Worker) message(ctx context.Context, e Event) (any, error) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(e.Data, &msg); err != nil {
		w.log.Debug().Err(err).Msg("Ignoring malformed message")
		return nil, nil
	}
	if msg.Type == MessageSkipWaiting && w.State() == StateInstalled {
		return w.Dispatch(ctx, Event{Kind: Activate})
	}
	return nil, nil
}
