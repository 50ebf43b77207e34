// Package listing exposes the listing submission endpoint. Submission is the
// entry point that provisions free trials and enforces plan quotas.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/entitlement"
	listingsvc "github.com/promptdir/entitlement/pkg/listing"
)

// Submitter accepts new directory listings.
type Submitter interface {
	Submit(ctx context.Context, ownerAccountID uuid.UUID, title, url string) (*listingsvc.Listing, error)
}

// Module wires the listing service into a chi router.
type Module struct {
	submitter Submitter
	log       *slog.Logger
}

func New(submitter Submitter, log *slog.Logger) *Module {
	if submitter == nil {
		panic("listing module: submitter is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Module{submitter: submitter, log: log}
}

func (m *Module) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/", m.handleSubmit)
	return r
}

type submitRequest struct {
	AccountID uuid.UUID `json:"accountId"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
}

type submitResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m *Module) handleSubmit(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	lst, err := m.submitter.Submit(r.Context(), req.AccountID, req.Title, req.URL)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, submitResponse{
			ID:        lst.ID,
			Status:    string(lst.Status),
			CreatedAt: lst.CreatedAt,
		})
	case errors.Is(err, listingsvc.ErrMissingOwner),
		errors.Is(err, listingsvc.ErrMissingURL):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, entitlement.ErrQuotaExceeded):
		respondJSON(w, http.StatusForbidden, map[string]string{"error": "listing quota exceeded for current plan"})
	default:
		m.log.ErrorContext(r.Context(), "listing submission failed", slog.Any("error", err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "submission failed"})
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
