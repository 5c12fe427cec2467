package transfer_api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-ragers/internal/auth"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/ticketerr"
	"ms-ragers/internal/transfer"
	transferdb "ms-ragers/internal/transfer/db"
)

type Handler struct {
	Service *transfer.Service
	Logger  *logger.Logger
}

func NewHandler(service *transfer.Service, log *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: log}
}

// CreateTransfer opens a transfer of the caller's ticket to a recipient.
// Expected POST body: {"ticketId": "...", "recipient": "@bob" | "bob@x.com"}
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TicketID  string `json:"ticketId"`
		Recipient string `json:"recipient"`
		FromName  string `json:"fromName,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.TicketID == "" || req.Recipient == "" {
		http.Error(w, "ticketId and recipient are required", http.StatusBadRequest)
		return
	}

	from := transfer.Sender{
		UserID: auth.UserID(r.Context()),
		Email:  auth.Email(r.Context()),
		Name:   req.FromName,
	}

	transferID, err := h.Service.CreateTransfer(r.Context(), req.TicketID, from, req.Recipient)
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"transferId": transferID})
}

// ClaimTransfer accepts a pending transfer addressed to the caller.
func (h *Handler) ClaimTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	claimant := transfer.Claimant{
		UserID:   auth.UserID(r.Context()),
		Email:    auth.Email(r.Context()),
		Username: auth.Username(r.Context()),
	}

	if err := h.Service.ClaimTransfer(r.Context(), transferID, claimant); err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"transferId": transferID, "status": "CLAIMED"})
}

// CancelTransfer reverses the caller's own pending transfer.
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, false)
}

// AdminCancelTransfer reverses any pending transfer; mounted behind the admin
// role gate. This is the only privilege escalation in the lifecycle engine.
func (h *Handler) AdminCancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.cancel(w, r, true)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, isAdmin bool) {
	transferID := chi.URLParam(r, "transferID")

	err := h.Service.CancelTransfer(r.Context(), transferID, auth.UserID(r.Context()), isAdmin)
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"transferId": transferID, "status": "CANCELLED"})
}

// ListTransfers returns a page of the caller's transfer history.
// Query params: direction=sent|received (default sent), page, pageSize.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	direction := transferdb.Direction(r.URL.Query().Get("direction"))
	if direction == "" {
		direction = transferdb.DirectionSent
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	recs, err := h.Service.ListForUser(r.Context(), auth.UserID(r.Context()), direction, page, pageSize)
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}
