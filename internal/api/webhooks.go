package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"github.com/austindbirch/sol_hook/internal/auth"
	"github.com/austindbirch/sol_hook/internal/ledger"
	"github.com/austindbirch/sol_hook/internal/subscription"
)

const maxBodyBytes = 1 << 20

// webhookView never carries the secret, only whether one is set
type webhookView struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	URL       string               `json:"url"`
	Event     string               `json:"event"`
	Filters   subscription.Filters `json:"filters"`
	Active    bool                 `json:"active"`
	HasSecret bool                 `json:"has_secret"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func viewOf(sub subscription.Subscription) webhookView {
	filters := sub.Filters
	if filters == nil {
		filters = subscription.Filters{}
	}
	return webhookView{
		ID:        sub.ID,
		Name:      sub.Name,
		URL:       sub.URL,
		Event:     sub.EventType,
		Filters:   filters,
		Active:    sub.Active,
		HasSecret: sub.HasSecret(),
		CreatedAt: sub.CreatedAt,
		UpdatedAt: sub.UpdatedAt,
	}
}

func owner(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.Owner
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(v)
}

// fail maps repository errors onto HTTP statuses
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, subscription.ErrNotFound):
		writeError(w, http.StatusNotFound, "Webhook not found")
	case errors.Is(err, subscription.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithContext(r.Context()).WithOwner(owner(r)).WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Subscriptions.ListByOwner(r.Context(), owner(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]webhookView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, viewOf(sub))
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": views})
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in subscription.NewSubscription
	if err := decode(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in.Owner = owner(r)

	sub, err := s.deps.Subscriptions.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.WithContext(r.Context()).WithOwner(sub.Owner).WithSubscription(sub.ID).WithEvent(sub.EventType).Info("webhook created")
	writeJSON(w, http.StatusCreated, viewOf(sub))
}

func (s *Server) getWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := s.deps.Subscriptions.FindByID(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	var patch subscription.Patch
	if err := decode(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sub, err := s.deps.Subscriptions.Update(r.Context(), owner(r), mux.Vars(r)["id"], patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.deps.Subscriptions.Update(r.Context(), owner(r), mux.Vars(r)["id"], subscription.Patch{Active: &active})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(sub))
	}
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Subscriptions.Delete(r.Context(), owner(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	sub, err := s.deps.Subscriptions.FindByID(r.Context(), owner(r), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records, err := s.deps.Ledger.ListBySubscription(r.Context(), sub.ID, ledger.ClampLimit(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": records})
}
