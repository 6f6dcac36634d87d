package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/IndexPilot/server/internal/apikey"
	"github.com/IndexPilot/server/internal/billing"
	apierrors "github.com/IndexPilot/server/internal/errors"
)

// maxWebhookBody caps the Stripe webhook payload size.
const maxWebhookBody = 64 << 10

func (h *handlers) listCreditPacks(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil || !h.billing.Enabled() {
		respond(w, http.StatusOK, map[string]any{"enabled": false, "packs": []billing.Pack{}})
		return
	}
	respond(w, http.StatusOK, map[string]any{"enabled": true, "packs": h.billing.Packs()})
}

type createCheckoutRequest struct {
	PriceID string `json:"price_id"`
}

func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil || !h.billing.Enabled() {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "Credit purchases are not configured")
		return
	}

	var req createCheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PriceID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "price_id is required")
		return
	}

	userID := apikey.UserID(r)
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), userID, req.PriceID, user.Email)
	if err != nil {
		if errors.Is(err, billing.ErrUnknownPack) {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
				"Unknown credit pack", "price_id", req.PriceID)
			return
		}
		h.logger.Error().Err(err).Msg("billing.checkout_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStripeError, "Failed to create checkout session")
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"session_id":   session.ID,
		"checkout_url": session.URL,
	})
}

// handleStripeWebhook grants purchased credits on checkout completion. The
// signature check inside ParseWebhook is the authentication for this route.
func (h *handlers) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "Billing is not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Failed to read webhook payload")
		return
	}

	checkout, err := h.billing.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn().Err(err).Msg("billing.webhook_rejected")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Webhook verification failed")
		return
	}
	if checkout == nil {
		// Event type we do not handle; acknowledge so Stripe stops retrying
		respond(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err := h.billing.HandleCompletion(r.Context(), *checkout); err != nil {
		h.logger.Error().Err(err).Str("session_id", checkout.SessionID).Msg("billing.completion_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Failed to record purchase")
		return
	}
	respond(w, http.StatusOK, map[string]any{"received": true})
}
