package billing

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	billingsvc "github.com/promptdir/entitlement/pkg/billing"
	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/plan"
)

// maxWebhookBody caps webhook payload size; Paddle events are far smaller.
const maxWebhookBody = 1 << 20

// actorHeader carries the authenticated admin's ID, set by the upstream
// auth proxy.
const actorHeader = "X-Actor-ID"

// reconcileSecretHeader authenticates the job trigger endpoint.
const reconcileSecretHeader = "X-Reconcile-Secret"

func (m *Module) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	err = m.processor.Handle(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, billingsvc.ErrSignatureInvalid):
		respondError(w, http.StatusUnauthorized, "invalid signature")
	default:
		// Non-2xx makes the provider redeliver; processing is idempotent.
		m.log.ErrorContext(r.Context(), "webhook processing failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "event processing failed")
	}
}

type checkoutRequest struct {
	AccountID    uuid.UUID `json:"accountId"`
	PriceRef     string    `json:"priceRef"`
	PurchaseType string    `json:"purchaseType"`
	ListingID    uuid.UUID `json:"listingId,omitempty"`
	Email        string    `json:"email,omitempty"`
}

type checkoutResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

func (m *Module) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := m.checkout.Start(r.Context(), billingsvc.StartCheckoutRequest{
		AccountID:    req.AccountID,
		PriceRef:     req.PriceRef,
		PurchaseType: billingsvc.PurchaseType(req.PurchaseType),
		ListingID:    req.ListingID,
		Email:        req.Email,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, checkoutResponse{RedirectURL: session.RedirectURL})
	case errors.Is(err, billingsvc.ErrMissingAccount),
		errors.Is(err, billingsvc.ErrMissingPriceRef),
		errors.Is(err, billingsvc.ErrMissingListing),
		errors.Is(err, billingsvc.ErrInvalidPurchaseType),
		errors.Is(err, plan.ErrPriceRefNotFound):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, billingsvc.ErrProviderUnreachable),
		errors.Is(err, billingsvc.ErrNoCheckoutURL):
		// Retryable from the caller's side.
		respondError(w, http.StatusBadGateway, "billing provider unavailable, please retry")
	default:
		m.log.ErrorContext(r.Context(), "checkout failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "checkout failed")
	}
}

type grantRequest struct {
	AccountID uuid.UUID `json:"accountId"`
	Plan      string    `json:"plan"`
	Months    int       `json:"months"`
}

// markPaidRequest identifies the entitlement to flip. Entitlements are keyed
// one per account, so the account ID doubles as the entitlement reference;
// both field names are accepted.
type markPaidRequest struct {
	AccountID      uuid.UUID `json:"accountId"`
	EntitlementRef uuid.UUID `json:"entitlementRef"`
}

func (r markPaidRequest) accountID() uuid.UUID {
	if r.AccountID != uuid.Nil {
		return r.AccountID
	}
	return r.EntitlementRef
}

type entitlementResponse struct {
	AccountID     uuid.UUID `json:"accountId"`
	Plan          string    `json:"plan"`
	Quota         int       `json:"quota"`
	ValidUntil    time.Time `json:"validUntil"`
	PaymentStatus string    `json:"paymentStatus"`
	Source        string    `json:"source"`
}

func toEntitlementResponse(ent *entitlement.Entitlement) entitlementResponse {
	return entitlementResponse{
		AccountID:     ent.AccountID,
		Plan:          string(ent.Plan),
		Quota:         ent.Quota,
		ValidUntil:    ent.ValidUntil,
		PaymentStatus: string(ent.PaymentStatus),
		Source:        string(ent.Source),
	}
}

// actor extracts and authorizes the acting admin. A zero UUID return means
// the response has already been written.
func (m *Module) actor(w http.ResponseWriter, r *http.Request, capability string) uuid.UUID {
	actorID, err := uuid.Parse(r.Header.Get(actorHeader))
	if err != nil || actorID == uuid.Nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity")
		return uuid.Nil
	}
	if !m.authz.Allow(r.Context(), actorID, capability) {
		respondError(w, http.StatusForbidden, "actor lacks required capability")
		return uuid.Nil
	}
	return actorID
}

func (m *Module) handleGrant(w http.ResponseWriter, r *http.Request) {
	actorID := m.actor(w, r, CapabilityGrantEntitlement)
	if actorID == uuid.Nil {
		return
	}

	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ent, err := m.admin.GrantEntitlement(r.Context(), actorID, req.AccountID, plan.Tier(req.Plan), req.Months)
	switch {
	case err == nil:
		m.log.InfoContext(r.Context(), "entitlement granted",
			slog.String("actor_id", actorID.String()),
			slog.String("account_id", req.AccountID.String()),
			slog.String("plan", req.Plan),
			slog.Int("months", req.Months))
		respondJSON(w, http.StatusOK, toEntitlementResponse(ent))
	case errors.Is(err, entitlement.ErrMissingAccount),
		errors.Is(err, entitlement.ErrInvalidPlan),
		errors.Is(err, entitlement.ErrInvalidMonths),
		errors.Is(err, plan.ErrPlanNotFound):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		m.log.ErrorContext(r.Context(), "grant entitlement failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "grant failed")
	}
}

func (m *Module) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	actorID := m.actor(w, r, CapabilityMarkPaid)
	if actorID == uuid.Nil {
		return
	}

	var req markPaidRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ent, err := m.admin.MarkPaid(r.Context(), actorID, req.accountID())
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, toEntitlementResponse(ent))
	case errors.Is(err, entitlement.ErrMissingAccount):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entitlement.ErrNotFound):
		respondError(w, http.StatusNotFound, "entitlement not found")
	default:
		m.log.ErrorContext(r.Context(), "mark paid failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "mark paid failed")
	}
}

func (m *Module) handleReconcile(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(reconcileSecretHeader)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(m.cfg.ReconcileSecret)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid reconcile secret")
		return
	}

	if err := m.reconcile.Run(r.Context()); err != nil {
		m.log.ErrorContext(r.Context(), "reconcile run failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "reconcile run finished with errors")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
