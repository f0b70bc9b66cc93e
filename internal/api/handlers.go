/**
 * @description
 * This file contains the HTTP handlers for the collections engine's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods
 * on the application service, and translate service errors into HTTP status
 * codes. They act as the bridge between the web layer and the business logic.
 *
 * @dependencies
 * - encoding/json, log/slog, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/app"
	"github.com/recoup/collections-engine/internal/domain"
	"github.com/recoup/collections-engine/internal/store"
)

const defaultTimelineLimit = 50

// CollectionsHandlers holds the application service that handlers will use.
type CollectionsHandlers struct {
	service *app.Service
	logger  *slog.Logger
}

// NewCollectionsHandlers creates a new instance of CollectionsHandlers.
func NewCollectionsHandlers(service *app.Service, logger *slog.Logger) *CollectionsHandlers {
	return &CollectionsHandlers{service: service, logger: logger}
}

// RunEscalationsHandler triggers one escalation pass over all overdue
// invoices. Called by the external cron (or the in-process scheduler's HTTP
// twin) and returns the run summary.
func (h *CollectionsHandlers) RunEscalationsHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.ProcessEscalations(r.Context())
	if err != nil {
		h.logger.Error("escalation run failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Escalation run failed")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// RunVerificationSweepHandler triggers one sweep over pending payment claims.
func (h *CollectionsHandlers) RunVerificationSweepHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.SweepPaymentClaims(r.Context())
	if err != nil {
		h.logger.Error("verification sweep failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Verification sweep failed")
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// TimelineHandler returns the collections timeline for one invoice.
func (h *CollectionsHandlers) TimelineHandler(w http.ResponseWriter, r *http.Request) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	invoiceID, err := uuidParam(r, "invoiceID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice ID format")
		return
	}

	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), defaultTimelineLimit)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	events, err := h.service.CollectionsTimeline(r.Context(), freelancerID, invoiceID, limit)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		h.logger.Error("timeline lookup failed", "invoice_id", invoiceID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// InterestHandler returns the statutory late-payment interest breakdown for
// one invoice.
func (h *CollectionsHandlers) InterestHandler(w http.ResponseWriter, r *http.Request) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	invoiceID, err := uuidParam(r, "invoiceID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice ID format")
		return
	}

	breakdown, err := h.service.InterestForInvoice(r.Context(), freelancerID, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		h.logger.Error("interest calculation failed", "invoice_id", invoiceID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, breakdown)
}

// RecommendationHandler returns the engine's costed next-step advice for one
// invoice.
func (h *CollectionsHandlers) RecommendationHandler(w http.ResponseWriter, r *http.Request) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	invoiceID, err := uuidParam(r, "invoiceID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice ID format")
		return
	}

	recommendation, err := h.service.RecommendationForInvoice(r.Context(), freelancerID, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		h.logger.Error("recommendation failed", "invoice_id", invoiceID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, recommendation)
}

// ManualActionHandler triggers one immediate send on a named channel,
// regardless of the automation toggles.
func (h *CollectionsHandlers) ManualActionHandler(w http.ResponseWriter, r *http.Request) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	invoiceID, err := uuidParam(r, "invoiceID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice ID format")
		return
	}

	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	attempt, err := h.service.RunManualAction(r.Context(), freelancerID, invoiceID, req.Action)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvoiceNotFound):
			h.writeError(w, http.StatusNotFound, "Invoice not found")
		case errors.Is(err, app.ErrUnknownAction):
			h.writeError(w, http.StatusBadRequest, "Unknown action")
		case errors.Is(err, app.ErrChannelNotAvailable):
			h.writeError(w, http.StatusConflict, "Channel not available for this invoice")
		case errors.Is(err, app.ErrAlreadyReferred):
			h.writeError(w, http.StatusConflict, "Invoice already referred to the agency")
		case errors.Is(err, app.ErrActionBudgetExhausted):
			h.writeError(w, http.StatusTooManyRequests, "Action budget exhausted for this billing period")
		case attempt != nil:
			// The send reached the provider and failed there.
			h.logger.Warn("manual action send failed", "invoice_id", invoiceID, "action", req.Action, "error", err)
			h.writeError(w, http.StatusBadGateway, "Provider rejected the send")
		default:
			h.logger.Error("manual action failed", "invoice_id", invoiceID, "action", req.Action, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, attempt)
}

// StopCollectionsHandler pauses all automated collections for one invoice.
func (h *CollectionsHandlers) StopCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	h.runPauseAction(w, r, h.service.StopCollections, "Collections stopped for this invoice")
}

// ResumeCollectionsHandler lifts a manual pause and re-enables collections.
func (h *CollectionsHandlers) ResumeCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	h.runPauseAction(w, r, h.service.ResumeCollections, "Collections resumed for this invoice")
}

// DisputeCollectionsHandler marks the invoice disputed and pauses collections.
func (h *CollectionsHandlers) DisputeCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	h.runPauseAction(w, r, h.service.DisputeCollections, "Invoice marked as disputed")
}

func (h *CollectionsHandlers) runPauseAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, freelancerID, invoiceID uuid.UUID) error, message string) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	invoiceID, err := uuidParam(r, "invoiceID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice ID format")
		return
	}

	if err := action(r.Context(), freelancerID, invoiceID); err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			h.writeError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		h.logger.Error("collections state change failed", "invoice_id", invoiceID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// VerifyPaymentClaimHandler confirms a client's payment claim: the invoice is
// marked paid and collections resume only to close out.
func (h *CollectionsHandlers) VerifyPaymentClaimHandler(w http.ResponseWriter, r *http.Request) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	claimID, err := uuidParam(r, "claimID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID format")
		return
	}

	claim, err := h.service.VerifyPaymentClaim(r.Context(), freelancerID, claimID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrClaimNotFound):
			h.writeError(w, http.StatusNotFound, "Claim not found")
		case errors.Is(err, app.ErrClaimFinalized):
			h.writeError(w, http.StatusConflict, "Claim has already been resolved")
		default:
			h.logger.Error("claim verification failed", "claim_id", claimID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// RejectPaymentClaimHandler rejects a client's payment claim and resumes
// collections. The optional reason is relayed to the client.
func (h *CollectionsHandlers) RejectPaymentClaimHandler(w http.ResponseWriter, r *http.Request) {
	freelancerID, ok := GetFreelancerID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get freelancer ID from context")
		return
	}
	claimID, err := uuidParam(r, "claimID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid claim ID format")
		return
	}

	// The body is optional; rejecting without a reason is allowed.
	var req domain.RejectPaymentClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claim, err := h.service.RejectPaymentClaim(r.Context(), freelancerID, claimID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrClaimNotFound):
			h.writeError(w, http.StatusNotFound, "Claim not found")
		case errors.Is(err, app.ErrClaimFinalized):
			h.writeError(w, http.StatusConflict, "Claim has already been resolved")
		default:
			h.logger.Error("claim rejection failed", "claim_id", claimID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, claim)
}

// FilePaymentClaimHandler is the public endpoint where a client reports
// having paid an invoice. Filing a claim pauses escalation until the
// freelancer verifies or the verification window lapses.
func (h *CollectionsHandlers) FilePaymentClaimHandler(w http.ResponseWriter, r *http.Request) {
	invoiceID, err := uuidParam(r, "invoiceID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid invoice ID format")
		return
	}

	var req domain.FilePaymentClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claim, err := h.service.FilePaymentClaim(r.Context(), invoiceID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvoiceNotFound):
			h.writeError(w, http.StatusNotFound, "Invoice not found")
		case errors.Is(err, app.ErrInvalidClaim):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrInvoiceNotCollectable):
			h.writeError(w, http.StatusConflict, "This invoice is not open for payment claims")
		case errors.Is(err, store.ErrActiveClaimExists):
			h.writeError(w, http.StatusConflict, "A payment claim for this invoice is already awaiting verification")
		default:
			h.logger.Error("payment claim filing failed", "invoice_id", invoiceID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, claim)
}

// uuidParam parses a chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// parseOptionalInt parses a query parameter, falling back to a default when
// it is absent. Negative values are rejected.
func parseOptionalInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errors.New("invalid integer parameter")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func (h *CollectionsHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *CollectionsHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
