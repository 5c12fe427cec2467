package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketUnit is one redeemable admission allotment (a "rager"). A unit may
// grant more than one entry (Quantity); UsedCount tracks entries redeemed at
// the door. Column names are the storage contract for existing records, so
// they stay camelCase.
type TicketUnit struct {
	bun.BaseModel `bun:"table:ticket_units"`

	ID                string    `bun:"id,pk" json:"id"`
	EventID           string    `bun:"eventId,notnull" json:"eventId"`
	OwnerUserID       string    `bun:"ownerUserId,notnull" json:"ownerUserId"`
	Quantity          int       `bun:"quantity,notnull" json:"quantity"`
	UsedCount         int       `bun:"usedCount,notnull,default:0" json:"usedCount"`
	Active            bool      `bun:"active,notnull,default:true" json:"active"`
	PendingTransferID string    `bun:"pendingTransferId,nullzero" json:"pendingTransferId,omitempty"`
	PendingTransferTo string    `bun:"pendingTransferTo,nullzero" json:"pendingTransferTo,omitempty"`
	LastScanAt        time.Time `bun:"lastScanAt,nullzero" json:"lastScanAt,omitempty"`
	LastScannerID     string    `bun:"lastScannerId,nullzero" json:"lastScannerId,omitempty"`
	CreatedAt         time.Time `bun:"createdAt,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt         time.Time `bun:"updatedAt,nullzero" json:"updatedAt,omitempty"`
}

// Remaining returns the number of entries not yet redeemed.
func (t *TicketUnit) Remaining() int {
	return t.Quantity - t.UsedCount
}

// Exhausted reports whether every entry on the unit has been redeemed.
func (t *TicketUnit) Exhausted() bool {
	return t.UsedCount >= t.Quantity
}

// HasPendingTransfer reports whether an ownership transfer is outstanding.
func (t *TicketUnit) HasPendingTransfer() bool {
	return t.PendingTransferID != ""
}
