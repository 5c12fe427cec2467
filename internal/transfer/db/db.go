package db

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

// Direction selects which side of a user's transfer history to list.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateTransfer(ctx context.Context, rec *models.TransferRecord) error {
	_, err := d.Bun.NewInsert().Model(rec).Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert transfer %s: %w", rec.ID, err)
	}
	return nil
}

func (d *DB) GetTransferByID(ctx context.Context, id string) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	err := d.Bun.NewSelect().
		Model(&rec).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transfer %s: %w", id, ticketerr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load transfer %s: %w", id, err)
	}
	return &rec, nil
}

// MarkStatus moves the record out of PENDING. The conditional UPDATE is the
// linearization point for every claim/cancel/expiry race: exactly one caller
// wins, the rest observe ErrConflict and re-read the winner's terminal state.
func (d *DB) MarkStatus(ctx context.Context, id string, to models.TransferStatus) error {
	if !to.Terminal() {
		return ticketerr.Validationf("cannot mark transfer %s back to %s", id, to)
	}
	res, err := d.Bun.NewUpdate().
		Model((*models.TransferRecord)(nil)).
		Set("status = ?", to).
		Where("id = ?", id).
		Where("status = ?", models.TransferPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark transfer %s %s: %w", id, to, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		if _, getErr := d.GetTransferByID(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("transfer %s already settled: %w", id, ticketerr.ErrConflict)
	}
	return nil
}

// ListByUser returns a page of the user's transfer history, newest first.
func (d *DB) ListByUser(ctx context.Context, userID string, direction Direction, limit, offset int) ([]models.TransferRecord, error) {
	var recs []models.TransferRecord
	q := d.Bun.NewSelect().Model(&recs)

	switch direction {
	case DirectionSent:
		q = q.Where(`"fromUserId" = ?`, userID)
	case DirectionReceived:
		q = q.Where(`"toUserId" = ?`, userID)
	default:
		return nil, ticketerr.Validationf("unknown direction %q", direction)
	}

	err := q.
		OrderExpr(`"createdAt" DESC`).
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s transfers for user %s: %w", direction, userID, err)
	}
	return recs, nil
}

// ListPendingExpiredBefore returns stale PENDING records whose window closed
// before the cutoff. Used by the proactive sweep; correctness never depends
// on it because claim evaluates expiry lazily.
func (d *DB) ListPendingExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.TransferRecord, error) {
	var recs []models.TransferRecord
	err := d.Bun.NewSelect().
		Model(&recs).
		Where("status = ?", models.TransferPending).
		Where(`"expiresAt" < ?`, cutoff).
		OrderExpr(`"expiresAt" ASC`).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list expired pending transfers: %w", err)
	}
	return recs, nil
}
