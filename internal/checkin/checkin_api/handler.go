package checkin_api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-ragers/internal/checkin"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/ragers/passqr"
	"ms-ragers/internal/ticketerr"
)

type Handler struct {
	Service *checkin.Service
	PassGen *passqr.Generator
	Logger  *logger.Logger
}

func NewHandler(service *checkin.Service, passGen *passqr.Generator, log *logger.Logger) *Handler {
	return &Handler{Service: service, PassGen: passGen, Logger: log}
}

// Scan is the door redemption endpoint for scanner devices.
// Request: {"ticketId"|"pass", "eventId", "scannerId", "attemptId"?}.
// Domain outcomes always come back as HTTP 200 with a status field so
// scanner firmware only has to branch on one value.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		checkin.ScanRequest
		Pass string `json:"pass,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Pass != "" {
		payload, err := h.PassGen.Decrypt(req.Pass)
		if err != nil {
			http.Error(w, "Invalid pass: "+err.Error(), http.StatusBadRequest)
			return
		}
		req.TicketID = payload.TicketID
	}

	res, err := h.Service.Scan(r.Context(), req.ScanRequest)
	if err != nil && res == nil {
		// Validation or storage failure; domain outcomes carry a result.
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// GuestList returns the live per-event guest aggregation.
func (h *Handler) GuestList(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	list, err := h.Service.AggregateGuestList(r.Context(), eventID)
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}
