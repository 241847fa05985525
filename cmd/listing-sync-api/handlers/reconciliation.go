// Package handlers provides HTTP handlers for the listing sync API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leasingborsen/listing-sync/cmd/listing-sync-api/middleware"
	"github.com/leasingborsen/listing-sync/internal/domain"
	"github.com/leasingborsen/listing-sync/internal/observability"
	"github.com/leasingborsen/listing-sync/internal/reconcile"
	"github.com/leasingborsen/listing-sync/internal/service"
	"github.com/leasingborsen/listing-sync/internal/storage"
)

// ReconciliationService is the part of service.Service the handlers use.
type ReconciliationService interface {
	Preview(ctx context.Context, req service.PreviewRequest) (*service.PreviewResult, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*service.PreviewResult, error)
	ListBatches(ctx context.Context, dealerID string, limit int) ([]*storage.Batch, error)
	Review(ctx context.Context, req service.ReviewRequest) (int, error)
	Apply(ctx context.Context, batchID uuid.UUID, actor string) (*storage.ApplyReport, error)
	Discard(ctx context.Context, batchID uuid.UUID, actor string) error
	Catalog(ctx context.Context, dealerID string) ([]*storage.Listing, error)
	AuditTrail(ctx context.Context, dealerID string, limit int) ([]*storage.AuditEvent, error)
	Diff(extracted []reconcile.ExtractedCar, existing []reconcile.ExistingListing) *reconcile.Result
}

// ReconciliationHandler handles preview, review and apply requests.
type ReconciliationHandler struct {
	logger       *observability.Logger
	svc          ReconciliationService
	maxBodyBytes int64
}

// NewReconciliationHandler creates a new reconciliation handler.
func NewReconciliationHandler(logger *observability.Logger, svc ReconciliationService, maxBodyBytes int64) *ReconciliationHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &ReconciliationHandler{
		logger:       logger,
		svc:          svc,
		maxBodyBytes: maxBodyBytes,
	}
}

// PreviewRequestDTO is the body of a preview request.
type PreviewRequestDTO struct {
	Extracted []reconcile.ExtractedCar `json:"extracted"`
}

// ReviewRequestDTO is the body of a review request.
type ReviewRequestDTO struct {
	Positions  []int  `json:"positions,omitempty"`
	ChangeType string `json:"changeType,omitempty"`
	Status     string `json:"status"`
}

// ReviewResponseDTO reports how many decisions were updated.
type ReviewResponseDTO struct {
	BatchID string `json:"batchId"`
	Updated int    `json:"updated"`
}

// DiffRequestDTO is the body of a stateless diff request.
type DiffRequestDTO struct {
	Extracted []reconcile.ExtractedCar    `json:"extracted"`
	Existing  []reconcile.ExistingListing `json:"existing"`
}

// Preview handles POST /dealers/{dealerId}/reconciliations.
func (h *ReconciliationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dealerID := chi.URLParam(r, "dealerId")

	var req PreviewRequestDTO
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.svc.Preview(ctx, service.PreviewRequest{
		DealerID:  dealerID,
		Extracted: req.Extracted,
		Actor:     middleware.UserFromContext(ctx),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Cached {
		status = http.StatusOK
	}
	h.writeJSON(w, status, res)
}

// ListBatches handles GET /dealers/{dealerId}/reconciliations.
func (h *ReconciliationHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	batches, err := h.svc.ListBatches(r.Context(), chi.URLParam(r, "dealerId"), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if batches == nil {
		batches = []*storage.Batch{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

// Catalog handles GET /dealers/{dealerId}/listings.
func (h *ReconciliationHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	listings, err := h.svc.Catalog(r.Context(), chi.URLParam(r, "dealerId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if listings == nil {
		listings = []*storage.Listing{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
}

// AuditTrail handles GET /dealers/{dealerId}/audit.
func (h *ReconciliationHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}

	events, err := h.svc.AuditTrail(r.Context(), chi.URLParam(r, "dealerId"), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []*storage.AuditEvent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// GetBatch handles GET /reconciliations/{batchId}.
func (h *ReconciliationHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}

	res, err := h.svc.GetBatch(r.Context(), batchID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Review handles POST /reconciliations/{batchId}/review.
func (h *ReconciliationHandler) Review(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}

	var req ReviewRequestDTO
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	updated, err := h.svc.Review(ctx, service.ReviewRequest{
		BatchID:    batchID,
		Positions:  req.Positions,
		ChangeType: reconcile.ChangeType(req.ChangeType),
		Status:     storage.ReviewStatus(req.Status),
		Reviewer:   middleware.UserFromContext(ctx),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ReviewResponseDTO{BatchID: batchID.String(), Updated: updated})
}

// Apply handles POST /reconciliations/{batchId}/apply.
func (h *ReconciliationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}

	report, err := h.svc.Apply(ctx, batchID, middleware.UserFromContext(ctx))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Discard handles POST /reconciliations/{batchId}/discard.
func (h *ReconciliationHandler) Discard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID, ok := h.batchID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Discard(ctx, batchID, middleware.UserFromContext(ctx)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Diff handles POST /reconcile/diff. Nothing is read from or written to storage.
func (h *ReconciliationHandler) Diff(w http.ResponseWriter, r *http.Request) {
	var req DiffRequestDTO
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Diff(req.Extracted, req.Existing))
}

func (h *ReconciliationHandler) batchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "batchId"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batchId", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReconciliationHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func (h *ReconciliationHandler) writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation:
		status = http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		status = http.StatusNotFound
	case domain.ErrorTypeConflict:
		status = http.StatusConflict
	}

	var de *domain.DomainError
	message := "internal error"
	if errors.As(err, &de) {
		message = de.Message
	}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("Request failed")
	}
	h.writeError(w, status, message, err.Error())
}

func (h *ReconciliationHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (h *ReconciliationHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	writeError(w, status, message, detail)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}
