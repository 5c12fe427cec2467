// Package checkin handles door redemption and live guest-list aggregation.
package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"ms-ragers/internal/identity"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/models"
	"ms-ragers/internal/ticketerr"
)

// Scan statuses, the wire contract consumed by scanner firmware.
const (
	StatusOK         = "ok"
	StatusExhausted  = "exhausted"
	StatusWrongEvent = "wrong_event"
	StatusNotFound   = "not_found"
	StatusInactive   = "inactive"
)

// TicketStore is the slice of the ticket store check-in reads and mutates.
type TicketStore interface {
	Get(ctx context.Context, ticketID string) (*models.TicketUnit, error)
	IncrementUsed(ctx context.Context, ticketID string, by int) (int, error)
	ListForEvent(ctx context.Context, eventID string) ([]models.TicketUnit, error)
	RecordScan(ctx context.Context, ticketID, scannerID string, at time.Time) error
}

// AttemptStore remembers scan outcomes for retry deduplication.
type AttemptStore interface {
	Lookup(ctx context.Context, ticketID, scannerID, attemptID string) ([]byte, bool, error)
	Record(ctx context.Context, ticketID, scannerID, attemptID string, outcome []byte) error
}

// ScanNotifier streams successful redemptions, fire and forget.
type ScanNotifier interface {
	ScanRecorded(ticketID, eventID, scannerID string, usedCount, quantity int)
}

// ScanRequest is one redemption attempt by a door scanner. AttemptID is a
// client-generated id; when a flaky network makes the device resend, the same
// AttemptID returns the recorded outcome instead of double-counting.
type ScanRequest struct {
	TicketID  string `json:"ticketId"`
	EventID   string `json:"eventId"`
	ScannerID string `json:"scannerId"`
	AttemptID string `json:"attemptId,omitempty"`
}

// ScanResult is the scanner wire response.
type ScanResult struct {
	Status    string `json:"status"`
	TicketID  string `json:"ticketId"`
	UsedCount int    `json:"usedCount"`
	Quantity  int    `json:"quantity"`
}

// GuestRow is one owner's aggregate position on the guest list.
type GuestRow struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Tickets     int    `json:"tickets"`
	Used        int    `json:"used"`
}

// GuestList is the live per-event aggregation.
type GuestList struct {
	EventID      string     `json:"eventId"`
	Guests       []GuestRow `json:"guests"`
	TotalTickets int        `json:"totalTickets"`
	UsedTickets  int        `json:"usedTickets"`
	Remaining    int        `json:"remaining"`
	Percentage   float64    `json:"percentage"`
}

type Service struct {
	Store    TicketStore
	Attempts AttemptStore
	Resolver identity.Resolver
	Notifier ScanNotifier
	Logger   *logger.Logger
}

func NewService(store TicketStore, attempts AttemptStore, resolver identity.Resolver, notifier ScanNotifier, log *logger.Logger) *Service {
	return &Service{Store: store, Attempts: attempts, Resolver: resolver, Notifier: notifier, Logger: log}
}

// Scan redeems one entry against the ticket. Domain failures come back as both
// a populated result (for the scanner wire contract) and a typed error; a nil
// result means the underlying storage failed.
func (s *Service) Scan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if req.TicketID == "" || req.EventID == "" || req.ScannerID == "" {
		return nil, ticketerr.Validation("ticketId, eventId and scannerId are required")
	}

	if req.AttemptID != "" && s.Attempts != nil {
		cached, ok, err := s.Attempts.Lookup(ctx, req.TicketID, req.ScannerID, req.AttemptID)
		if err != nil {
			s.Logger.Warn("CHECKIN", fmt.Sprintf("attempt lookup failed for ticket %s: %v", req.TicketID, err))
		} else if ok {
			var res ScanResult
			if err := json.Unmarshal(cached, &res); err == nil {
				s.Logger.LogScan(req.ScannerID, req.TicketID, "duplicate attempt, returning recorded outcome")
				return &res, resultError(&res)
			}
		}
	}

	res, err := s.scanOnce(ctx, req)
	if res != nil && req.AttemptID != "" && s.Attempts != nil {
		if payload, mErr := json.Marshal(res); mErr == nil {
			if rErr := s.Attempts.Record(ctx, req.TicketID, req.ScannerID, req.AttemptID, payload); rErr != nil {
				s.Logger.Warn("CHECKIN", fmt.Sprintf("failed to record attempt for ticket %s: %v", req.TicketID, rErr))
			}
		}
	}
	return res, err
}

func (s *Service) scanOnce(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	ticket, err := s.Store.Get(ctx, req.TicketID)
	if err != nil {
		if errors.Is(err, ticketerr.ErrNotFound) {
			return &ScanResult{Status: StatusNotFound, TicketID: req.TicketID}, err
		}
		return nil, err
	}

	res := &ScanResult{TicketID: ticket.ID, UsedCount: ticket.UsedCount, Quantity: ticket.Quantity}

	if ticket.EventID != req.EventID {
		res.Status = StatusWrongEvent
		return res, fmt.Errorf("ticket %s is for event %s: %w", ticket.ID, ticket.EventID, ticketerr.ErrWrongEvent)
	}
	if !ticket.Active {
		res.Status = StatusInactive
		return res, fmt.Errorf("ticket %s: %w", ticket.ID, ticketerr.ErrInactive)
	}

	used, err := s.Store.IncrementUsed(ctx, req.TicketID, 1)
	if err != nil {
		if errors.Is(err, ticketerr.ErrExhausted) {
			res.Status = StatusExhausted
			res.UsedCount = used
			return res, err
		}
		return nil, err
	}
	res.Status = StatusOK
	res.UsedCount = used

	// Scan metadata is informational only; a failure here never voids the
	// redemption that already committed.
	if err := s.Store.RecordScan(ctx, req.TicketID, req.ScannerID, time.Now()); err != nil {
		s.Logger.Warn("CHECKIN", fmt.Sprintf("failed to record scan metadata for ticket %s: %v", req.TicketID, err))
	}

	if s.Notifier != nil {
		s.Notifier.ScanRecorded(req.TicketID, req.EventID, req.ScannerID, res.UsedCount, res.Quantity)
	}
	s.Logger.LogScan(req.ScannerID, req.TicketID, fmt.Sprintf("entry %d/%d redeemed", res.UsedCount, res.Quantity))
	return res, nil
}

// resultError reconstructs the typed error for a cached non-ok outcome so
// duplicate attempts behave like the original call.
func resultError(res *ScanResult) error {
	switch res.Status {
	case StatusOK:
		return nil
	case StatusExhausted:
		return fmt.Errorf("ticket %s: %w", res.TicketID, ticketerr.ErrExhausted)
	case StatusWrongEvent:
		return fmt.Errorf("ticket %s: %w", res.TicketID, ticketerr.ErrWrongEvent)
	case StatusNotFound:
		return fmt.Errorf("ticket %s: %w", res.TicketID, ticketerr.ErrNotFound)
	case StatusInactive:
		return fmt.Errorf("ticket %s: %w", res.TicketID, ticketerr.ErrInactive)
	default:
		return nil
	}
}

// AggregateGuestList builds the live guest list for an event: one row per
// owner plus redemption totals.
func (s *Service) AggregateGuestList(ctx context.Context, eventID string) (*GuestList, error) {
	units, err := s.Store.ListForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	byOwner := make(map[string]*GuestRow)
	order := make([]string, 0, len(units))
	list := &GuestList{EventID: eventID, Guests: []GuestRow{}}

	for _, unit := range units {
		if !unit.Active {
			continue
		}
		row, ok := byOwner[unit.OwnerUserID]
		if !ok {
			row = &GuestRow{UserID: unit.OwnerUserID}
			byOwner[unit.OwnerUserID] = row
			order = append(order, unit.OwnerUserID)
		}
		row.Tickets += unit.Quantity
		row.Used += unit.UsedCount
		list.TotalTickets += unit.Quantity
		list.UsedTickets += unit.UsedCount
	}

	// Display identity is best effort; the counts must come back even when
	// the user service is down.
	if len(order) > 0 && s.Resolver != nil {
		idents, err := s.Resolver.ResolveBatch(ctx, order)
		if err != nil {
			s.Logger.Warn("CHECKIN", fmt.Sprintf("guest list identity lookup failed for event %s: %v", eventID, err))
		} else {
			for uid, ident := range idents {
				if row, ok := byOwner[uid]; ok {
					row.DisplayName = ident.DisplayName
					row.PhotoURL = ident.PhotoURL
				}
			}
		}
	}

	for _, uid := range order {
		list.Guests = append(list.Guests, *byOwner[uid])
	}
	list.Remaining = list.TotalTickets - list.UsedTickets
	if list.TotalTickets > 0 {
		list.Percentage = math.Round(float64(list.UsedTickets)/float64(list.TotalTickets)*10000) / 100
	}
	return list, nil
}

// MultiScanNotifier fans scan notifications out to every sink, in order.
func MultiScanNotifier(sinks ...ScanNotifier) ScanNotifier { return multiScanNotifier(sinks) }

type multiScanNotifier []ScanNotifier

func (m multiScanNotifier) ScanRecorded(ticketID, eventID, scannerID string, usedCount, quantity int) {
	for _, n := range m {
		n.ScanRecorded(ticketID, eventID, scannerID, usedCount, quantity)
	}
}
