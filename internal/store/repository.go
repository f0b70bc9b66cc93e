/**
 * @description
 * This file defines the Repository interface, which abstracts all database
 * operations needed by the collections engine. Defining an interface allows
 * the application logic to be tested against stubs and keeps SQL concerns
 * out of the worker and controller code.
 *
 * Conditional mutations return (bool, error): false with a nil error means
 * the guard condition no longer held, which is how overlapping worker runs
 * and double-fired cron triggers converge without locks.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/domain"
)

// ClaimReminderWindow selects which freelancer nudge flag a sweep branch is
// claiming before it sends.
type ClaimReminderWindow string

const (
	ClaimReminderFirst  ClaimReminderWindow = "first"
	ClaimReminderUrgent ClaimReminderWindow = "urgent"
)

// Repository defines the persistence operations for the collections engine.
type Repository interface {
	// Invoice operations
	ListCollectionsCandidates(ctx context.Context, limit int) ([]domain.Invoice, error)
	FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)
	// RecordInvoiceEscalation moves an overdue invoice into collections and
	// bumps its attempt counter. Already-in-collections invoices only get the
	// counter bump.
	RecordInvoiceEscalation(ctx context.Context, invoiceID uuid.UUID) error
	MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) error
	MarkInvoiceDisputed(ctx context.Context, invoiceID uuid.UUID) error
	SetInvoiceCollectionsEnabled(ctx context.Context, invoiceID uuid.UUID, enabled bool) error
	SetInvoicePaymentClaim(ctx context.Context, invoiceID uuid.UUID, claimID *uuid.UUID, claimStatus *string) error

	// Escalation state operations
	// GetOrCreateEscalationState seeds a missing state row at the given level
	// with a conditional insert, so two overlapping first-writers converge on
	// one record. The bool reports whether this call created the row.
	GetOrCreateEscalationState(ctx context.Context, invoiceID uuid.UUID, seedLevel domain.EscalationLevel) (*domain.EscalationState, bool, error)
	GetEscalationState(ctx context.Context, invoiceID uuid.UUID) (*domain.EscalationState, error)
	// AdvanceEscalationLevel only succeeds if the row still holds fromLevel
	// and is not paused; the losing side of a race sees false.
	AdvanceEscalationLevel(ctx context.Context, invoiceID uuid.UUID, fromLevel, toLevel domain.EscalationLevel, escalatedAt time.Time) (bool, error)
	SetEscalationPaused(ctx context.Context, invoiceID uuid.UUID, reason domain.PauseReason, pausedAt time.Time, pauseUntil *time.Time) (bool, error)
	ClearEscalationPause(ctx context.Context, invoiceID uuid.UUID) (bool, error)

	// Timeline operations
	// AppendTimelineEvent is a no-op for an event id already recorded, so
	// retried appends never duplicate audit rows.
	AppendTimelineEvent(ctx context.Context, event domain.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, invoiceID uuid.UUID, limit int) ([]domain.TimelineEvent, error)

	// Collection attempt operations (dispatch log, duplicate-send guard)
	RecordCollectionAttempt(ctx context.Context, attempt domain.CollectionAttempt) error
	// HasAgencyReferral reports whether the invoice has already been handed
	// to the agency. Referrals are one-time across all levels.
	HasAgencyReferral(ctx context.Context, invoiceID uuid.UUID) (bool, error)
	// HasCollectionAttempt reports whether any attempt at this level is in a
	// non-failed state. Failed attempts are retryable.
	HasCollectionAttempt(ctx context.Context, invoiceID uuid.UUID, level domain.EscalationLevel) (bool, error)

	// Payment claim operations
	// CreatePaymentClaim rejects a second claim while one is still pending
	// verification for the same invoice (ErrActiveClaimExists).
	CreatePaymentClaim(ctx context.Context, claim domain.PaymentClaim) error
	FindPaymentClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.PaymentClaim, error)
	ListPendingPaymentClaims(ctx context.Context, limit int) ([]domain.PaymentClaim, error)
	MarkPaymentClaimVerified(ctx context.Context, claimID uuid.UUID, verifiedAt time.Time) (bool, error)
	MarkPaymentClaimRejected(ctx context.Context, claimID uuid.UUID, reason *string, rejectedAt time.Time) (bool, error)
	MarkPaymentClaimExpired(ctx context.Context, claimID uuid.UUID, expiredAt time.Time) (bool, error)
	MarkClaimReminderSent(ctx context.Context, claimID uuid.UUID, window ClaimReminderWindow, sentAt time.Time) (bool, error)

	// Freelancer settings and consent
	GetFreelancer(ctx context.Context, freelancerID uuid.UUID) (*domain.Freelancer, error)
	GetAutomationConfig(ctx context.Context, freelancerID uuid.UUID) (*domain.AutomationConfig, error)
	GetCollectionsConsent(ctx context.Context, clientID uuid.UUID) (*domain.CollectionsConsent, error)
}
