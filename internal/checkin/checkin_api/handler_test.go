package checkin_api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ragers/internal/checkin"
	"ms-ragers/internal/checkin/checkin_api"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/models"
	"ms-ragers/internal/ragers/passqr"
	"ms-ragers/internal/ticketerr"
)

// fakeStore is a map-backed ticket store, enough for exercising the handler
// wire contract without a database.
type fakeStore struct {
	units map[string]*models.TicketUnit
}

func (f *fakeStore) Get(ctx context.Context, ticketID string) (*models.TicketUnit, error) {
	unit, ok := f.units[ticketID]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ticketerr.ErrNotFound)
	}
	cp := *unit
	return &cp, nil
}

func (f *fakeStore) IncrementUsed(ctx context.Context, ticketID string, by int) (int, error) {
	unit, ok := f.units[ticketID]
	if !ok {
		return 0, fmt.Errorf("ticket %s: %w", ticketID, ticketerr.ErrNotFound)
	}
	if unit.UsedCount+by > unit.Quantity {
		return unit.UsedCount, fmt.Errorf("ticket %s: %w", ticketID, ticketerr.ErrExhausted)
	}
	unit.UsedCount += by
	return unit.UsedCount, nil
}

func (f *fakeStore) ListForEvent(ctx context.Context, eventID string) ([]models.TicketUnit, error) {
	var units []models.TicketUnit
	for _, unit := range f.units {
		if unit.EventID == eventID {
			units = append(units, *unit)
		}
	}
	return units, nil
}

func (f *fakeStore) RecordScan(ctx context.Context, ticketID, scannerID string, at time.Time) error {
	return nil
}

func setupRouter(store *fakeStore, passGen *passqr.Generator) *chi.Mux {
	log := logger.NewLogger()
	svc := checkin.NewService(store, nil, nil, nil, log)
	handler := checkin_api.NewHandler(svc, passGen, log)

	r := chi.NewRouter()
	r.Post("/api/checkin/scan", handler.Scan)
	r.Get("/api/checkin/events/{eventID}/guests", handler.GuestList)
	return r
}

func postScan(t *testing.T, router http.Handler, body map[string]string) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/checkin/scan", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) checkin.ScanResult {
	var res checkin.ScanResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestScanEndpoint(t *testing.T) {
	store := &fakeStore{units: map[string]*models.TicketUnit{
		"ticket-1": {ID: "ticket-1", EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true},
	}}
	router := setupRouter(store, passqr.NewGenerator("test-secret"))

	rec := postScan(t, router, map[string]string{
		"ticketId":  "ticket-1",
		"eventId":   "event456",
		"scannerId": "door-7",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, checkin.StatusOK, res.Status)
	assert.Equal(t, 1, res.UsedCount)
}

func TestScanEndpointDomainOutcomesAre200(t *testing.T) {
	store := &fakeStore{units: map[string]*models.TicketUnit{
		"used-up":     {ID: "used-up", EventID: "event456", OwnerUserID: "user123", Quantity: 1, UsedCount: 1, Active: true},
		"other-event": {ID: "other-event", EventID: "event999", OwnerUserID: "user123", Quantity: 1, Active: true},
		"disabled":    {ID: "disabled", EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: false},
	}}
	router := setupRouter(store, passqr.NewGenerator("test-secret"))

	cases := []struct {
		ticketID string
		status   string
	}{
		{"used-up", checkin.StatusExhausted},
		{"other-event", checkin.StatusWrongEvent},
		{"disabled", checkin.StatusInactive},
		{"ghost", checkin.StatusNotFound},
	}

	// Scanner firmware branches on the status field, never on HTTP codes
	for _, tc := range cases {
		rec := postScan(t, router, map[string]string{
			"ticketId":  tc.ticketID,
			"eventId":   "event456",
			"scannerId": "door-7",
		})
		assert.Equal(t, http.StatusOK, rec.Code, tc.ticketID)
		assert.Equal(t, tc.status, decodeResult(t, rec).Status, tc.ticketID)
	}
}

func TestScanEndpointWithPass(t *testing.T) {
	store := &fakeStore{units: map[string]*models.TicketUnit{
		"ticket-1": {ID: "ticket-1", EventID: "event456", OwnerUserID: "user123", Quantity: 1, Active: true},
	}}
	passGen := passqr.NewGenerator("test-secret")
	router := setupRouter(store, passGen)

	pass, err := passGen.Encrypt(passqr.Payload{
		TicketID:    "ticket-1",
		EventID:     "event456",
		OwnerUserID: "user123",
		IssuedAt:    time.Now(),
	})
	require.NoError(t, err)

	rec := postScan(t, router, map[string]string{
		"pass":      pass,
		"eventId":   "event456",
		"scannerId": "door-7",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	res := decodeResult(t, rec)
	assert.Equal(t, checkin.StatusOK, res.Status)
	assert.Equal(t, "ticket-1", res.TicketID)
}

func TestScanEndpointInvalidPass(t *testing.T) {
	store := &fakeStore{units: map[string]*models.TicketUnit{}}
	router := setupRouter(store, passqr.NewGenerator("test-secret"))

	rec := postScan(t, router, map[string]string{
		"pass":      "garbage",
		"eventId":   "event456",
		"scannerId": "door-7",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanEndpointMissingFields(t *testing.T) {
	store := &fakeStore{units: map[string]*models.TicketUnit{}}
	router := setupRouter(store, passqr.NewGenerator("test-secret"))

	rec := postScan(t, router, map[string]string{"ticketId": "ticket-1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGuestListEndpoint(t *testing.T) {
	store := &fakeStore{units: map[string]*models.TicketUnit{
		"ticket-1": {ID: "ticket-1", EventID: "event456", OwnerUserID: "alice", Quantity: 2, UsedCount: 1, Active: true},
	}}
	router := setupRouter(store, passqr.NewGenerator("test-secret"))

	req := httptest.NewRequest(http.MethodGet, "/api/checkin/events/event456/guests", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var list checkin.GuestList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, "event456", list.EventID)
	require.Len(t, list.Guests, 1)
	assert.Equal(t, "alice", list.Guests[0].UserID)
	assert.Equal(t, 50.0, list.Percentage)
}
