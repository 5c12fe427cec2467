// Package transfer enforces the ownership-transfer state machine:
// PENDING -> CLAIMED | CANCELLED | EXPIRED, with no way back out of a
// terminal state.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-ragers/internal/identity"
	"ms-ragers/internal/logger"
	"ms-ragers/internal/models"
	"ms-ragers/internal/ticketerr"
	transferdb "ms-ragers/internal/transfer/db"
)

// TransferTTL is how long a recipient has to claim before the transfer
// expires. Expiry is evaluated lazily at claim time; the redis sweep only
// tightens the window.
const TransferTTL = 72 * time.Hour

const defaultPageSize = 20

// TicketStore is the slice of the ticket store the workflow mutates through.
type TicketStore interface {
	Get(ctx context.Context, ticketID string) (*models.TicketUnit, error)
	SetPending(ctx context.Context, ticketID, transferID, targetHint string) error
	ClearPending(ctx context.Context, ticketID, expectedTransferID string) error
	ReassignOwner(ctx context.Context, ticketID, expectedTransferID, newOwnerID string) error
}

// TransferDB persists transfer records.
type TransferDB interface {
	CreateTransfer(ctx context.Context, rec *models.TransferRecord) error
	GetTransferByID(ctx context.Context, id string) (*models.TransferRecord, error)
	MarkStatus(ctx context.Context, id string, to models.TransferStatus) error
	ListByUser(ctx context.Context, userID string, direction transferdb.Direction, limit, offset int) ([]models.TransferRecord, error)
}

// Notifier publishes lifecycle events. Fire and forget: delivery is not part
// of transfer correctness.
type Notifier interface {
	TransferCreated(rec *models.TransferRecord)
	TransferClaimed(rec *models.TransferRecord)
	TransferCancelled(rec *models.TransferRecord)
	TransferExpired(rec *models.TransferRecord)
}

// ExpiryScheduler arms the proactive expiry sweep for a pending transfer.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, transferID string, at time.Time) error
	CancelExpiry(ctx context.Context, transferID string) error
}

// Sender identifies who is giving the ticket away.
type Sender struct {
	UserID string
	Email  string
	Name   string
}

// Claimant identifies who is trying to accept a transfer. Username comes from
// the claimant's verified profile, not from request input.
type Claimant struct {
	UserID   string
	Email    string
	Username string
}

type Service struct {
	Store     TicketStore
	DB        TransferDB
	Resolver  identity.Resolver
	Notifier  Notifier
	Scheduler ExpiryScheduler
	Logger    *logger.Logger

	// Now is swappable for expiry tests.
	Now func() time.Time
}

func NewService(store TicketStore, db TransferDB, resolver identity.Resolver, notifier Notifier, scheduler ExpiryScheduler, log *logger.Logger) *Service {
	return &Service{
		Store:     store,
		DB:        db,
		Resolver:  resolver,
		Notifier:  notifier,
		Scheduler: scheduler,
		Logger:    log,
		Now:       time.Now,
	}
}

// CreateTransfer opens a PENDING transfer of the ticket to the recipient and
// returns the transfer id. The recipient is a username (optionally @-prefixed)
// or a bare email for people without an account yet.
func (s *Service) CreateTransfer(ctx context.Context, ticketID string, from Sender, recipient string) (string, error) {
	ticket, err := s.Store.Get(ctx, ticketID)
	if err != nil {
		return "", err
	}
	if ticket.OwnerUserID != from.UserID {
		return "", fmt.Errorf("user %s does not own ticket %s: %w", from.UserID, ticketID, ticketerr.ErrPermissionDenied)
	}
	if ticket.UsedCount > 0 {
		return "", ticketerr.Validation("used ticket")
	}
	if ticket.HasPendingTransfer() {
		return "", ticketerr.Validation("already pending")
	}
	if !ticket.Active {
		return "", ticketerr.Validation("ticket disabled")
	}

	rec := &models.TransferRecord{
		ID:             uuid.New().String(),
		EventID:        ticket.EventID,
		TicketID:       ticket.ID,
		TicketQuantity: ticket.Quantity,
		FromUserID:     from.UserID,
		FromEmail:      from.Email,
		FromName:       from.Name,
		Status:         models.TransferPending,
		CreatedAt:      s.Now(),
	}
	rec.ExpiresAt = rec.CreatedAt.Add(TransferTTL)

	if err := s.resolveRecipient(ctx, rec, from, recipient); err != nil {
		return "", err
	}

	if err := s.DB.CreateTransfer(ctx, rec); err != nil {
		return "", err
	}

	if err := s.Store.SetPending(ctx, ticketID, rec.ID, rec.TargetHint()); err != nil {
		// The record never became reachable from the ticket; retire it so it
		// cannot be claimed.
		if markErr := s.DB.MarkStatus(ctx, rec.ID, models.TransferCancelled); markErr != nil {
			s.Logger.Error("TRANSFER", fmt.Sprintf("failed to retire orphan transfer %s: %v", rec.ID, markErr))
		}
		if errors.Is(err, ticketerr.ErrConflict) {
			return "", ticketerr.Validation("already pending")
		}
		return "", err
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.ScheduleExpiry(ctx, rec.ID, rec.ExpiresAt); err != nil {
			s.Logger.Warn("TRANSFER", fmt.Sprintf("failed to schedule expiry for transfer %s: %v", rec.ID, err))
		}
	}
	s.Notifier.TransferCreated(rec)
	s.Logger.LogTransfer("CREATE", rec.ID, fmt.Sprintf("ticket %s from %s to %s", ticketID, from.UserID, rec.TargetHint()))
	return rec.ID, nil
}

func (s *Service) resolveRecipient(ctx context.Context, rec *models.TransferRecord, from Sender, recipient string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return ticketerr.Validation("recipient required")
	}

	// "@name" is always a username. Anything else with an "@" is an email.
	handle := strings.TrimPrefix(recipient, "@")
	isEmail := !strings.HasPrefix(recipient, "@") && strings.Contains(recipient, "@")

	if !isEmail {
		ident, err := s.Resolver.ResolveByUsername(ctx, handle)
		if err != nil {
			return err
		}
		if ident.UID == from.UserID {
			return ticketerr.ErrSelfTransfer
		}
		rec.ToUserID = ident.UID
		rec.ToUsername = ident.Username
		if rec.ToUsername == "" {
			rec.ToUsername = handle
		}
		return nil
	}

	email := strings.ToLower(recipient)
	if email == strings.ToLower(from.Email) {
		return ticketerr.ErrSelfTransfer
	}
	rec.ToEmail = email

	// If the email happens to belong to an account already, pin the uid so
	// claiming does not depend on which email the claimant logs in with.
	ident, err := s.Resolver.ResolveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ticketerr.ErrNotFound) {
			return nil
		}
		return err
	}
	if ident.UID == from.UserID {
		return ticketerr.ErrSelfTransfer
	}
	rec.ToUserID = ident.UID
	return nil
}

// ClaimTransfer commits the ownership change to the claimant. The status CAS
// decides every race; the loser of a concurrent cancel sees the winner's
// terminal state.
func (s *Service) ClaimTransfer(ctx context.Context, transferID string, claimant Claimant) error {
	rec, err := s.DB.GetTransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return ticketerr.Terminal(string(rec.Status))
	}
	if rec.ExpiredAt(s.Now()) {
		if err := s.expire(ctx, rec); err != nil {
			return err
		}
		return fmt.Errorf("transfer %s: %w", transferID, ticketerr.ErrExpired)
	}

	if err := s.authorizeClaim(rec, claimant); err != nil {
		return err
	}

	if err := s.DB.MarkStatus(ctx, transferID, models.TransferClaimed); err != nil {
		if errors.Is(err, ticketerr.ErrConflict) {
			// Someone else settled it first; report what actually happened.
			settled, getErr := s.DB.GetTransferByID(ctx, transferID)
			if getErr != nil {
				return getErr
			}
			return ticketerr.Terminal(string(settled.Status))
		}
		return err
	}

	if err := s.Store.ReassignOwner(ctx, rec.TicketID, transferID, claimant.UserID); err != nil {
		// The status CAS was won, so nothing else should have touched the
		// pending link. Surface the conflict rather than guessing.
		s.Logger.Error("TRANSFER", fmt.Sprintf("claimed transfer %s but reassign failed: %v", transferID, err))
		return err
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.CancelExpiry(ctx, transferID); err != nil {
			s.Logger.Warn("TRANSFER", fmt.Sprintf("failed to disarm expiry for transfer %s: %v", transferID, err))
		}
	}
	rec.Status = models.TransferClaimed
	s.Notifier.TransferClaimed(rec)
	s.Logger.LogTransfer("CLAIM", transferID, fmt.Sprintf("ticket %s now owned by %s", rec.TicketID, claimant.UserID))
	return nil
}

func (s *Service) authorizeClaim(rec *models.TransferRecord, claimant Claimant) error {
	switch {
	case rec.ToUserID != "":
		if claimant.UserID == rec.ToUserID {
			return nil
		}
	case rec.ToUsername != "":
		if claimant.Username != "" && strings.EqualFold(claimant.Username, rec.ToUsername) {
			return nil
		}
	case rec.ToEmail != "":
		if claimant.Email != "" && strings.EqualFold(claimant.Email, rec.ToEmail) {
			return nil
		}
	}
	return fmt.Errorf("user %s is not the transfer target: %w", claimant.UserID, ticketerr.ErrPermissionDenied)
}

// CancelTransfer reverses a pending transfer. Only the sender may cancel
// unless isAdmin is set.
func (s *Service) CancelTransfer(ctx context.Context, transferID, actorUserID string, isAdmin bool) error {
	rec, err := s.DB.GetTransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if !isAdmin && actorUserID != rec.FromUserID {
		return fmt.Errorf("user %s cannot cancel transfer %s: %w", actorUserID, transferID, ticketerr.ErrPermissionDenied)
	}
	if rec.Status.Terminal() {
		return ticketerr.Terminal(string(rec.Status))
	}

	if err := s.DB.MarkStatus(ctx, transferID, models.TransferCancelled); err != nil {
		if errors.Is(err, ticketerr.ErrConflict) {
			settled, getErr := s.DB.GetTransferByID(ctx, transferID)
			if getErr != nil {
				return getErr
			}
			return ticketerr.Terminal(string(settled.Status))
		}
		return err
	}

	if err := s.Store.ClearPending(ctx, rec.TicketID, transferID); err != nil {
		s.Logger.Error("TRANSFER", fmt.Sprintf("cancelled transfer %s but failed to clear ticket %s: %v", transferID, rec.TicketID, err))
		return err
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.CancelExpiry(ctx, transferID); err != nil {
			s.Logger.Warn("TRANSFER", fmt.Sprintf("failed to disarm expiry for transfer %s: %v", transferID, err))
		}
	}
	rec.Status = models.TransferCancelled
	s.Notifier.TransferCancelled(rec)
	s.Logger.LogTransfer("CANCEL", transferID, fmt.Sprintf("by %s (admin=%t)", actorUserID, isAdmin))
	return nil
}

// ExpireTransfer settles a pending transfer whose window closed. Called by
// the redis sweep; losing the status race to a claim or cancel is fine.
func (s *Service) ExpireTransfer(ctx context.Context, transferID string) error {
	rec, err := s.DB.GetTransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	if !rec.ExpiredAt(s.Now()) {
		return nil
	}
	return s.expire(ctx, rec)
}

func (s *Service) expire(ctx context.Context, rec *models.TransferRecord) error {
	if err := s.DB.MarkStatus(ctx, rec.ID, models.TransferExpired); err != nil {
		if errors.Is(err, ticketerr.ErrConflict) {
			// Settled by a claim or cancel in the meantime.
			return nil
		}
		return err
	}
	if err := s.Store.ClearPending(ctx, rec.TicketID, rec.ID); err != nil {
		s.Logger.Error("TRANSFER", fmt.Sprintf("expired transfer %s but failed to clear ticket %s: %v", rec.ID, rec.TicketID, err))
		return err
	}
	rec.Status = models.TransferExpired
	s.Notifier.TransferExpired(rec)
	s.Logger.LogTransfer("EXPIRE", rec.ID, fmt.Sprintf("ticket %s released back to %s", rec.TicketID, rec.FromUserID))
	return nil
}

// ListForUser returns one page of the user's transfer history, newest first.
// Page numbers start at 1.
func (s *Service) ListForUser(ctx context.Context, userID string, direction transferdb.Direction, page, pageSize int) ([]models.TransferRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return s.DB.ListByUser(ctx, userID, direction, pageSize, (page-1)*pageSize)
}

// MultiNotifier fans lifecycle notifications out to every sink, in order.
func MultiNotifier(sinks ...Notifier) Notifier { return multiNotifier(sinks) }

type multiNotifier []Notifier

func (m multiNotifier) TransferCreated(rec *models.TransferRecord) {
	for _, n := range m {
		n.TransferCreated(rec)
	}
}

func (m multiNotifier) TransferClaimed(rec *models.TransferRecord) {
	for _, n := range m {
		n.TransferClaimed(rec)
	}
}

func (m multiNotifier) TransferCancelled(rec *models.TransferRecord) {
	for _, n := range m {
		n.TransferCancelled(rec)
	}
}

func (m multiNotifier) TransferExpired(rec *models.TransferRecord) {
	for _, n := range m {
		n.TransferExpired(rec)
	}
}
