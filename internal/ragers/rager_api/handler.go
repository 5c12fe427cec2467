package rager_api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-ragers/internal/auth"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/models"
	"ms-ragers/internal/ragers/passqr"
	"ms-ragers/internal/ticketerr"
)

// TicketReader is the read-only slice of the ticket store the wallet needs.
type TicketReader interface {
	Get(ctx context.Context, ticketID string) (*models.TicketUnit, error)
	ListForOwner(ctx context.Context, userID string) ([]models.TicketUnit, error)
}

type Handler struct {
	Store   TicketReader
	PassGen *passqr.Generator
	Logger  *logger.Logger
}

func NewHandler(store TicketReader, passGen *passqr.Generator, log *logger.Logger) *Handler {
	return &Handler{Store: store, PassGen: passGen, Logger: log}
}

// Wallet lists the caller's ticket units, active first.
func (h *Handler) Wallet(w http.ResponseWriter, r *http.Request) {
	units, err := h.Store.ListForOwner(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(units)
}

// ViewTicket returns one of the caller's ticket units.
func (h *Handler) ViewTicket(w http.ResponseWriter, r *http.Request) {
	unit, err := h.loadOwned(r)
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(unit)
}

// Pass renders the unit as an encrypted QR PNG for the door scanner.
func (h *Handler) Pass(w http.ResponseWriter, r *http.Request) {
	unit, err := h.loadOwned(r)
	if err != nil {
		http.Error(w, err.Error(), ticketerr.HTTPStatus(err))
		return
	}

	png, err := h.PassGen.GeneratePNG(passqr.Payload{
		TicketID:    unit.ID,
		EventID:     unit.EventID,
		OwnerUserID: unit.OwnerUserID,
		IssuedAt:    time.Now(),
	})
	if err != nil {
		http.Error(w, "Failed to generate pass: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (h *Handler) loadOwned(r *http.Request) (*models.TicketUnit, error) {
	unit, err := h.Store.Get(r.Context(), chi.URLParam(r, "ticketID"))
	if err != nil {
		return nil, err
	}
	if unit.OwnerUserID != auth.UserID(r.Context()) {
		return nil, ticketerr.ErrPermissionDenied
	}
	return unit, nil
}
