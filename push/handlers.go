package push

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// API serves the push endpoints of the catalog.
type API struct {
	registry   Registry
	dispatcher *Dispatcher
	publicKey  string
}

func NewAPI(registry Registry, dispatcher *Dispatcher, vapidPublicKey string) *API {
	return &API{
		registry:   registry,
		dispatcher: dispatcher,
		publicKey:  vapidPublicKey,
	}
}

// Routes returns the router of the push API, to be mounted at /api/push.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/vapid-public-key", a.vapidPublicKey)
	r.Post("/subscribe", a.subscribe)
	r.Post("/unsubscribe", a.unsubscribe)
	r.Post("/notify", a.notify)
	r.Get("/stats", a.stats)
	return r
}

type subscriptionBody struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type subscribeRequest struct {
	Subscription subscriptionBody `json:"subscription"`
	UserAgent    string           `json:"userAgent"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) vapidPublicKey(w http.ResponseWriter, r *http.Request) {
	if a.publicKey == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{"push notifications are not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": a.publicKey})
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid subscription"})
		return
	}
	s := req.Subscription
	if s.Endpoint == "" || s.Keys.P256dh == "" || s.Keys.Auth == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid subscription"})
		return
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.UserAgent()
	}
	id, err := a.registry.Upsert(r.Context(), Subscription{
		Endpoint:  s.Endpoint,
		P256dh:    s.Keys.P256dh,
		Auth:      s.Keys.Auth,
		UserAgent: userAgent,
	})
	if err != nil {
		a.internalError(w, r, err, "Could not store subscription")
		return
	}
	total, err := a.registry.Count(r.Context())
	if err != nil {
		a.internalError(w, r, err, "Could not count subscriptions")
		return
	}
	getLogger(r).Info().Str("endpoint", TruncateEndpoint(s.Endpoint)).Int("total", total).Msg("Stored subscription")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"subscriptionId":     id,
		"totalSubscriptions": total,
	})
}

func (a *API) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subscription.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid subscription"})
		return
	}
	removed, err := a.registry.Remove(r.Context(), req.Subscription.Endpoint)
	if err != nil {
		a.internalError(w, r, err, "Could not remove subscription")
		return
	}
	total, err := a.registry.Count(r.Context())
	if err != nil {
		a.internalError(w, r, err, "Could not count subscriptions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"removed":            removed,
		"totalSubscriptions": total,
	})
}

func (a *API) notify(w http.ResponseWriter, r *http.Request) {
	token := TokenFromRequest(r)
	// reject bad credentials before looking at the body
	if err := a.dispatcher.Authorize(token); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})
		return
	}
	var n Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrInvalidPayload.Error()})
		return
	}
	results, err := a.dispatcher.Dispatch(r.Context(), n, token)
	switch {
	case errors.Is(err, ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})
	case errors.Is(err, ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
	case err != nil:
		a.internalError(w, r, err, "Could not dispatch notification")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"results": results,
		})
	}
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.registry.Stats(r.Context())
	if err != nil {
		a.internalError(w, r, err, "Could not get subscription stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	getLogger(r).Error().Err(err).Msg(msg)
	writeJSON(w, http.StatusInternalServerError, errorResponse{msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// getLogger returns the request logger, or the global logger outside of the logging middleware.
func getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	return logger
}
