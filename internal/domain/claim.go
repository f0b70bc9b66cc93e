/**
 * @description
 * Payment claim model. A claim is a client's assertion that an overdue
 * invoice has been paid; it pauses escalation until the freelancer verifies
 * or rejects it, or the verification window lapses.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment claim statuses. pending_verification is the only non-terminal
// state; the pause logic assumes at most one non-terminal claim per invoice.
const (
	ClaimStatusPendingVerification = "pending_verification"
	ClaimStatusVerified            = "verified"
	ClaimStatusRejected            = "rejected"
	ClaimStatusExpired             = "expired"
)

// Payment methods a client can report on a claim.
const (
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCard         = "card"
	PaymentMethodCash         = "cash"
	PaymentMethodCheque       = "cheque"
	PaymentMethodOther        = "other"
)

// PaymentClaim maps to the `payment_claims` table.
type PaymentClaim struct {
	ID                   uuid.UUID  `json:"id"`
	InvoiceID            uuid.UUID  `json:"invoice_id"`
	FreelancerID         uuid.UUID  `json:"freelancer_id"`
	AmountPence          int64      `json:"amount_pence"`
	PaymentMethod        string     `json:"payment_method"` // e.g. 'bank_transfer'
	Reference            *string    `json:"reference,omitempty"`
	EvidenceNote         *string    `json:"evidence_note,omitempty"`
	PaidAt               *time.Time `json:"paid_at,omitempty"` // date the client says they paid
	Status               string     `json:"status"`
	VerificationDeadline time.Time  `json:"verification_deadline"`
	Reminder24hSent      bool       `json:"reminder_24h_sent"`
	Reminder24hSentAt    *time.Time `json:"reminder_24h_sent_at,omitempty"`
	Reminder6hSent       bool       `json:"reminder_6h_sent"`
	Reminder6hSentAt     *time.Time `json:"reminder_6h_sent_at,omitempty"`
	AutoRejected         bool       `json:"auto_rejected"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	RejectedAt           *time.Time `json:"rejected_at,omitempty"`
	RejectedReason       *string    `json:"rejected_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// ValidPaymentMethod reports whether a client-supplied method is one the
// claim form accepts.
func ValidPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodCash, PaymentMethodCheque, PaymentMethodOther:
		return true
	}
	return false
}

// FilePaymentClaimRequest is the public payload a client submits from the
// invoice payment page.
type FilePaymentClaimRequest struct {
	AmountPence   int64      `json:"amount_pence"`
	PaymentMethod string     `json:"payment_method"`
	Reference     *string    `json:"reference,omitempty"`
	EvidenceNote  *string    `json:"evidence_note,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// RejectPaymentClaimRequest carries the freelancer's optional rejection
// reason, which is surfaced back to the client.
type RejectPaymentClaimRequest struct {
	Reason *string `json:"reason,omitempty"`
}
