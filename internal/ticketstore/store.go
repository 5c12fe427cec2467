// Package ticketstore is the single source of truth for ticket units. Every
// mutation is a single conditional UPDATE: the precondition lives in the WHERE
// clause and the database linearizes concurrent attempts, so callers never run
// an unguarded read-then-write sequence.
package ticketstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-ragers/internal/models"
	"ms-ragers/internal/ticketerr"
)

type Store struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

// Get returns the ticket unit or ticketerr.ErrNotFound.
func (s *Store) Get(ctx context.Context, ticketID string) (*models.TicketUnit, error) {
	var unit models.TicketUnit
	err := s.Bun.NewSelect().
		Model(&unit).
		Where("id = ?", ticketID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", ticketID, ticketerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	return &unit, nil
}

// ListForOwner returns the owner's wallet, active units first, newest first.
func (s *Store) ListForOwner(ctx context.Context, userID string) ([]models.TicketUnit, error) {
	var units []models.TicketUnit
	err := s.Bun.NewSelect().
		Model(&units).
		Where(`"ownerUserId" = ?`, userID).
		OrderExpr(`active DESC, "createdAt" DESC`).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for owner %s: %w", userID, err)
	}
	return units, nil
}

// ListForEvent returns every unit issued for the event, for check-in
// aggregation. Order is unspecified.
func (s *Store) ListForEvent(ctx context.Context, eventID string) ([]models.TicketUnit, error) {
	var units []models.TicketUnit
	err := s.Bun.NewSelect().
		Model(&units).
		Where(`"eventId" = ?`, eventID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets for event %s: %w", eventID, err)
	}
	return units, nil
}

// IncrementUsed atomically redeems `by` entries and returns the new used
// count. The guard `usedCount + by <= quantity` rides in the UPDATE itself, so
// two scanners racing on the last entry resolve to exactly one winner.
func (s *Store) IncrementUsed(ctx context.Context, ticketID string, by int) (int, error) {
	if by <= 0 {
		return 0, ticketerr.Validationf("increment must be positive, got %d", by)
	}

	var used int
	_, err := s.Bun.NewUpdate().
		Model((*models.TicketUnit)(nil)).
		Set(`"usedCount" = "usedCount" + ?`, by).
		Set(`"updatedAt" = ?`, time.Now()).
		Where("id = ?", ticketID).
		Where(`"usedCount" + ? <= quantity`, by).
		Returning(`"usedCount"`).
		Exec(ctx, &used)
	if errors.Is(err, sql.ErrNoRows) {
		// Precondition failed: either the ticket is gone or it is out of
		// entries. Re-read to tell the two apart.
		unit, getErr := s.Get(ctx, ticketID)
		if getErr != nil {
			return 0, getErr
		}
		return unit.UsedCount, fmt.Errorf("ticket %s: %w", ticketID, ticketerr.ErrExhausted)
	}
	if err != nil {
		return 0, fmt.Errorf("increment used count for ticket %s: %w", ticketID, err)
	}
	return used, nil
}

// SetPending marks the unit as having an outstanding transfer. Fails Conflict
// if a transfer is already pending or any entry has been redeemed.
func (s *Store) SetPending(ctx context.Context, ticketID, transferID, targetHint string) error {
	res, err := s.Bun.NewUpdate().
		Model((*models.TicketUnit)(nil)).
		Set(`"pendingTransferId" = ?`, transferID).
		Set(`"pendingTransferTo" = ?`, targetHint).
		Set(`"updatedAt" = ?`, time.Now()).
		Where("id = ?", ticketID).
		Where(`("pendingTransferId" IS NULL OR "pendingTransferId" = '')`).
		Where(`"usedCount" = 0`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set pending transfer on ticket %s: %w", ticketID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := s.Get(ctx, ticketID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("ticket %s already pending or partially used: %w", ticketID, ticketerr.ErrConflict)
	}
	return nil
}

// ClearPending removes the pending marker if it still references
// expectedTransferID. Already cleared (or re-pointed) is not an error; the
// operation is idempotent by design of the cancel/expiry paths.
func (s *Store) ClearPending(ctx context.Context, ticketID, expectedTransferID string) error {
	res, err := s.Bun.NewUpdate().
		Model((*models.TicketUnit)(nil)).
		Set(`"pendingTransferId" = NULL`).
		Set(`"pendingTransferTo" = NULL`).
		Set(`"updatedAt" = ?`, time.Now()).
		Where("id = ?", ticketID).
		Where(`"pendingTransferId" = ?`, expectedTransferID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("clear pending transfer on ticket %s: %w", ticketID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := s.Get(ctx, ticketID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ReassignOwner commits the ownership change and clears the pending marker in
// one statement. Fails Conflict unless the pending marker still references
// expectedTransferID.
func (s *Store) ReassignOwner(ctx context.Context, ticketID, expectedTransferID, newOwnerID string) error {
	res, err := s.Bun.NewUpdate().
		Model((*models.TicketUnit)(nil)).
		Set(`"ownerUserId" = ?`, newOwnerID).
		Set(`"pendingTransferId" = NULL`).
		Set(`"pendingTransferTo" = NULL`).
		Set(`"updatedAt" = ?`, time.Now()).
		Where("id = ?", ticketID).
		Where(`"pendingTransferId" = ?`, expectedTransferID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reassign owner of ticket %s: %w", ticketID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := s.Get(ctx, ticketID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("pending transfer link on ticket %s changed: %w", ticketID, ticketerr.ErrConflict)
	}
	return nil
}

// RecordScan stores door-scan metadata. Not invariant-bearing, so it is a
// plain unconditional update.
func (s *Store) RecordScan(ctx context.Context, ticketID, scannerID string, at time.Time) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.TicketUnit)(nil)).
		Set(`"lastScanAt" = ?`, at).
		Set(`"lastScannerId" = ?`, scannerID).
		Where("id = ?", ticketID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("record scan metadata for ticket %s: %w", ticketID, err)
	}
	return nil
}
