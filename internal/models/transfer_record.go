package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferClaimed   TransferStatus = "CLAIMED"
	TransferCancelled TransferStatus = "CANCELLED"
	TransferExpired   TransferStatus = "EXPIRED"
)

// Terminal reports whether the status can no longer change.
func (s TransferStatus) Terminal() bool {
	return s != TransferPending
}

// TransferRecord is a single ownership-transfer attempt for a ticket unit.
// It leaves PENDING exactly once (claim, cancel or expiry) and is kept
// immutable afterwards for history.
type TransferRecord struct {
	bun.BaseModel `bun:"table:transfer_records"`

	ID             string         `bun:"id,pk" json:"id"`
	EventID        string         `bun:"eventId,notnull" json:"eventId"`
	TicketID       string         `bun:"ticketId,notnull" json:"ticketId"`
	TicketQuantity int            `bun:"ticketQuantity,notnull" json:"ticketQuantity"`
	FromUserID     string         `bun:"fromUserId,notnull" json:"fromUserId"`
	FromEmail      string         `bun:"fromEmail,nullzero" json:"fromEmail,omitempty"`
	FromName       string         `bun:"fromName,nullzero" json:"fromName,omitempty"`
	ToUserID       string         `bun:"toUserId,nullzero" json:"toUserId,omitempty"`
	ToUsername     string         `bun:"toUsername,nullzero" json:"toUsername,omitempty"`
	ToEmail        string         `bun:"toEmail,nullzero" json:"toEmail,omitempty"`
	Status         TransferStatus `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time      `bun:"createdAt,notnull" json:"createdAt"`
	ExpiresAt      time.Time      `bun:"expiresAt,notnull" json:"expiresAt"`
}

// ExpiredAt reports whether the transfer window has closed at the given time.
// The stored status may still read PENDING; expiry is evaluated lazily.
func (r *TransferRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// TargetHint returns the display hint shown on the ticket while the transfer
// is outstanding: the recipient username when known, otherwise the email.
func (r *TransferRecord) TargetHint() string {
	if r.ToUsername != "" {
		return "@" + r.ToUsername
	}
	return r.ToEmail
}
