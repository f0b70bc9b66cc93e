/**
 * @description
 * This file defines the invoice model as seen by the collections engine.
 * Invoices are owned by the main invoicing backend; the engine reads them to
 * find overdue candidates and mutates them only to move them into
 * collections, to bump the attempt counter, and to reflect payment-claim
 * outcomes.
 *
 * @notes
 * - Amounts are stored as `int64` pence to avoid floating-point inaccuracies
 *   with financial data.
 * - Client contact details are denormalized onto the invoice so a single
 *   candidate query gives the dispatcher everything it needs to send.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Invoice statuses. The engine scans 'overdue' and 'in_collections' and is
// the only writer of the 'overdue' -> 'in_collections' transition.
const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusSent          = "sent"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusOverdue       = "overdue"
	InvoiceStatusInCollections = "in_collections"
	InvoiceStatusDisputed      = "disputed"
	InvoiceStatusCancelled     = "cancelled"
)

// Invoice maps to the `invoices` table.
type Invoice struct {
	ID                 uuid.UUID  `json:"id"`
	FreelancerID       uuid.UUID  `json:"freelancer_id"`
	ClientID           uuid.UUID  `json:"client_id"`
	Reference          string     `json:"reference"` // e.g. INV-20260314-00042
	AmountPence        int64      `json:"amount_pence"`
	Currency           string     `json:"currency"` // ISO 4217, normally GBP
	Status             string     `json:"status"`   // e.g. 'overdue', 'in_collections'
	DueDate            time.Time  `json:"due_date"`
	IssuedAt           time.Time  `json:"issued_at"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
	ClientName         string     `json:"client_name"`
	ClientEmail        string     `json:"client_email"`
	ClientPhone        *string    `json:"client_phone,omitempty"`
	ClientAddressLine1 *string    `json:"client_address_line1,omitempty"`
	ClientAddressLine2 *string    `json:"client_address_line2,omitempty"`
	ClientCity         *string    `json:"client_city,omitempty"`
	ClientPostcode     *string    `json:"client_postcode,omitempty"`
	CollectionsEnabled bool       `json:"collections_enabled"`
	CollectionAttempts int        `json:"collection_attempts"`
	PaymentClaimID     *uuid.UUID `json:"payment_claim_id,omitempty"`
	PaymentClaimStatus *string    `json:"payment_claim_status,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DaysOverdue returns the whole calendar days between the invoice due date
// and now, comparing UTC dates. Negative when the invoice is not yet due.
func DaysOverdue(dueDate, now time.Time) int {
	due := dueDate.UTC()
	due = time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	today := now.UTC()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(today.Sub(due).Hours() / 24)
}

// DaysOverdue reports how many whole days this invoice is past due at `now`.
func (i *Invoice) DaysOverdue(now time.Time) int {
	return DaysOverdue(i.DueDate, now)
}

// HasPhone reports whether the client contact carries a usable phone number.
func (i *Invoice) HasPhone() bool {
	return i.ClientPhone != nil && strings.TrimSpace(*i.ClientPhone) != ""
}

// HasPostalAddress reports whether the client contact is letter-addressable.
// Lob rejects letters without at least a first address line and a postcode.
func (i *Invoice) HasPostalAddress() bool {
	if i.ClientAddressLine1 == nil || strings.TrimSpace(*i.ClientAddressLine1) == "" {
		return false
	}
	return i.ClientPostcode != nil && strings.TrimSpace(*i.ClientPostcode) != ""
}
