package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"creditledger/internal/credit"
	"creditledger/internal/eventstore"
	"creditledger/internal/model"
	"creditledger/internal/service"
)

type Handler struct {
	svc service.CreditService
}

func NewHandler(svc service.CreditService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /accounts/status", h.AccountStatus)
	mux.HandleFunc("POST /accounts/credits", h.AddCredits)
	mux.HandleFunc("POST /reservations", h.Reserve)
	mux.HandleFunc("POST /reservations/allocate", h.Allocate)
	mux.HandleFunc("POST /reservations/cancel", h.Cancel)
	mux.HandleFunc("POST /reservations/spend", h.Spend)
	mux.HandleFunc("POST /reservations/evict", h.Evict)
	mux.HandleFunc("POST /allocations/free", h.Free)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) AccountStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountID(w, r)
	if !ok {
		return
	}
	status, err := h.svc.AccountStatus(r.Context(), accountID)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID int64 `json:"account_id"`
		Amount    int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	status, err := h.svc.AddCredits(r.Context(), req.AccountID, req.Amount)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

// Reserve earmarks credits. The reservation id may be supplied by the caller;
// when omitted a fresh one is generated and returned alongside the status.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID     int64  `json:"account_id"`
		Amount        int64  `json:"amount"`
		ReservationID string `json:"reservation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	id := uuid.New()
	if req.ReservationID != "" {
		parsed, err := uuid.Parse(req.ReservationID)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid_reservation_id")
			return
		}
		id = parsed
	}

	status, err := h.svc.Reserve(r.Context(), req.AccountID, req.Amount, id)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"reservation_id": id.String(),
		"status":         status,
	})
}

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	h.reservationOp(w, r, h.svc.Allocate)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.reservationOp(w, r, h.svc.Cancel)
}

func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	h.reservationOp(w, r, h.svc.Spend)
}

func (h *Handler) Free(w http.ResponseWriter, r *http.Request) {
	h.reservationOp(w, r, h.svc.Free)
}

func (h *Handler) Evict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID     int64 `json:"account_id"`
		MaxAgeSeconds int64 `json:"max_age_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	status, err := h.svc.EvictExpired(r.Context(), req.AccountID, time.Duration(req.MaxAgeSeconds)*time.Second)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

type reservationFunc func(ctx context.Context, accountID int64, id uuid.UUID) (*model.AccountStatus, error)

func (h *Handler) reservationOp(w http.ResponseWriter, r *http.Request, op reservationFunc) {
	var req struct {
		AccountID     int64  `json:"account_id"`
		ReservationID string `json:"reservation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	id, err := uuid.Parse(req.ReservationID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_reservation_id")
		return
	}
	status, err := op(r.Context(), req.AccountID, id)
	if err != nil {
		h.respondFailure(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, status)
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("account_id")
	if raw == "" {
		h.respondError(w, http.StatusBadRequest, "missing_account_id")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_account_id")
		return 0, false
	}
	return id, true
}

// respondFailure maps service errors onto HTTP statuses: missing targets are
// 404, other rejected commands 422, a lost version race that exhausted its
// retries 409, anything else 500.
func (h *Handler) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, credit.ErrReservationNotFound), errors.Is(err, credit.ErrAllocationNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case credit.IsValidation(err):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		h.respondError(w, http.StatusConflict, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
