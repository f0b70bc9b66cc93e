/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed by the collections engine:
 * overdue-invoice scans, conditional escalation-state mutations, the
 * append-only timeline, the collection-attempt dispatch log, and the payment
 * claim lifecycle.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Escalation level strings coming off rows are validated through
 *   domain.ParseEscalationLevel; malformed rows are rejected, not defaulted.
 * - CreatePaymentClaim's NOT EXISTS guard is backed by the partial unique
 *   index uq_payment_claims_active (invoice_id WHERE status =
 *   'pending_verification').
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recoup/collections-engine/internal/domain"
)

var (
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrEscalationStateNotFound = errors.New("escalation state not found")
	ErrClaimNotFound           = errors.New("payment claim not found")
	ErrActiveClaimExists       = errors.New("an active payment claim already exists for this invoice")
	ErrFreelancerNotFound      = errors.New("freelancer not found")
	ErrConsentNotFound         = errors.New("collections consent not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const invoiceColumns = `
	id, freelancer_id, client_id, reference, amount_pence, currency, status,
	due_date, issued_at, paid_at, client_name, client_email, client_phone,
	client_address_line1, client_address_line2, client_city, client_postcode,
	collections_enabled, collection_attempts, payment_claim_id,
	payment_claim_status, created_at, updated_at`

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := row.Scan(
		&inv.ID, &inv.FreelancerID, &inv.ClientID, &inv.Reference, &inv.AmountPence,
		&inv.Currency, &inv.Status, &inv.DueDate, &inv.IssuedAt, &inv.PaidAt,
		&inv.ClientName, &inv.ClientEmail, &inv.ClientPhone,
		&inv.ClientAddressLine1, &inv.ClientAddressLine2, &inv.ClientCity,
		&inv.ClientPostcode, &inv.CollectionsEnabled, &inv.CollectionAttempts,
		&inv.PaymentClaimID, &inv.PaymentClaimStatus, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListCollectionsCandidates returns up to `limit` invoices eligible for the
// escalation worker, oldest due date first so the longest-overdue debts are
// never starved by the batch cap.
func (r *PostgresRepository) ListCollectionsCandidates(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status IN ('overdue', 'in_collections') AND collections_enabled = TRUE
		ORDER BY due_date ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// FindInvoiceByID retrieves a single invoice.
func (r *PostgresRepository) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

// RecordInvoiceEscalation moves an overdue invoice into collections and bumps
// the attempt counter in one statement. Invoices already in collections keep
// their status and only get the counter bump.
func (r *PostgresRepository) RecordInvoiceEscalation(ctx context.Context, invoiceID uuid.UUID) error {
	query := `
		UPDATE invoices
		SET
			status = CASE WHEN status = 'overdue' THEN 'in_collections' ELSE status END,
			collection_attempts = collection_attempts + 1,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, invoiceID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// MarkInvoicePaid closes an invoice after a verified payment claim.
func (r *PostgresRepository) MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) error {
	query := `UPDATE invoices SET status = 'paid', paid_at = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, invoiceID, paidAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// MarkInvoiceDisputed flags an invoice as disputed, which removes it from the
// worker's candidate scan.
func (r *PostgresRepository) MarkInvoiceDisputed(ctx context.Context, invoiceID uuid.UUID) error {
	query := `UPDATE invoices SET status = 'disputed', updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, invoiceID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// SetInvoiceCollectionsEnabled toggles automated collections for one invoice.
func (r *PostgresRepository) SetInvoiceCollectionsEnabled(ctx context.Context, invoiceID uuid.UUID, enabled bool) error {
	query := `UPDATE invoices SET collections_enabled = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, invoiceID, enabled)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// SetInvoicePaymentClaim stamps the denormalized claim reference on the
// invoice. Passing nils clears it.
func (r *PostgresRepository) SetInvoicePaymentClaim(ctx context.Context, invoiceID uuid.UUID, claimID *uuid.UUID, claimStatus *string) error {
	query := `UPDATE invoices SET payment_claim_id = $2, payment_claim_status = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, invoiceID, claimID, claimStatus)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

const escalationStateColumns = `
	invoice_id, current_level, is_paused, pause_reason, paused_at, pause_until,
	last_escalated_at, created_at, updated_at`

func scanEscalationState(row rowScanner) (*domain.EscalationState, error) {
	var (
		state       domain.EscalationState
		rawLevel    string
		pauseReason *string
	)
	err := row.Scan(
		&state.InvoiceID, &rawLevel, &state.IsPaused, &pauseReason,
		&state.PausedAt, &state.PauseUntil, &state.LastEscalatedAt,
		&state.CreatedAt, &state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	level, err := domain.ParseEscalationLevel(rawLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid escalation state row for invoice %s: %w", state.InvoiceID, err)
	}
	state.CurrentLevel = level
	if pauseReason != nil {
		reason := domain.PauseReason(*pauseReason)
		state.PauseReason = &reason
	}
	return &state, nil
}

// GetOrCreateEscalationState inserts the state row if absent and returns the
// current row either way. The conditional insert means overlapping worker
// runs converge on one record instead of racing to different initial levels.
func (r *PostgresRepository) GetOrCreateEscalationState(ctx context.Context, invoiceID uuid.UUID, seedLevel domain.EscalationLevel) (*domain.EscalationState, bool, error) {
	insert := `
		INSERT INTO escalation_states (invoice_id, current_level, is_paused, created_at, updated_at)
		VALUES ($1, $2, FALSE, NOW(), NOW())
		ON CONFLICT (invoice_id) DO NOTHING
	`
	result, err := r.db.Exec(ctx, insert, invoiceID, string(seedLevel))
	if err != nil {
		return nil, false, err
	}
	created := result.RowsAffected() == 1

	state, err := r.GetEscalationState(ctx, invoiceID)
	if err != nil {
		return nil, false, err
	}
	return state, created, nil
}

// GetEscalationState loads the state row for one invoice.
func (r *PostgresRepository) GetEscalationState(ctx context.Context, invoiceID uuid.UUID) (*domain.EscalationState, error) {
	query := `SELECT ` + escalationStateColumns + ` FROM escalation_states WHERE invoice_id = $1`
	state, err := scanEscalationState(r.db.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrEscalationStateNotFound
		}
		return nil, err
	}
	return state, nil
}

// AdvanceEscalationLevel performs the guarded level transition. The WHERE
// clause enforces monotonicity and the pause invariant at the database, so
// the losing side of a double-fired run simply sees false.
func (r *PostgresRepository) AdvanceEscalationLevel(ctx context.Context, invoiceID uuid.UUID, fromLevel, toLevel domain.EscalationLevel, escalatedAt time.Time) (bool, error) {
	query := `
		UPDATE escalation_states
		SET current_level = $3, last_escalated_at = $4, updated_at = NOW()
		WHERE invoice_id = $1 AND current_level = $2 AND is_paused = FALSE
	`
	result, err := r.db.Exec(ctx, query, invoiceID, string(fromLevel), string(toLevel), escalatedAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// SetEscalationPaused suspends escalation for one invoice. A nil pauseUntil
// is an indefinite pause (manual stop, dispute).
func (r *PostgresRepository) SetEscalationPaused(ctx context.Context, invoiceID uuid.UUID, reason domain.PauseReason, pausedAt time.Time, pauseUntil *time.Time) (bool, error) {
	query := `
		UPDATE escalation_states
		SET is_paused = TRUE, pause_reason = $2, paused_at = $3, pause_until = $4, updated_at = NOW()
		WHERE invoice_id = $1 AND is_paused = FALSE
	`
	result, err := r.db.Exec(ctx, query, invoiceID, string(reason), pausedAt, pauseUntil)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ClearEscalationPause lifts a pause. Only one of several concurrent
// resumers sees true, which keeps the resumed timeline event single.
func (r *PostgresRepository) ClearEscalationPause(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	query := `
		UPDATE escalation_states
		SET is_paused = FALSE, pause_reason = NULL, paused_at = NULL, pause_until = NULL, updated_at = NOW()
		WHERE invoice_id = $1 AND is_paused = TRUE
	`
	result, err := r.db.Exec(ctx, query, invoiceID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// AppendTimelineEvent writes one audit row. Duplicate event ids are no-ops,
// which makes retried appends safe.
func (r *PostgresRepository) AppendTimelineEvent(ctx context.Context, event domain.TimelineEvent) error {
	var metadata []byte
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode timeline metadata: %w", err)
		}
		metadata = encoded
	}
	query := `
		INSERT INTO timeline_events (event_id, invoice_id, level, event_type, channel, occurred_at, message, metadata)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		event.EventID, event.InvoiceID, string(event.Level), event.EventType,
		string(event.Channel), event.OccurredAt, event.Message, metadata,
	)
	return err
}

// ListTimelineEvents returns the newest events first for display.
func (r *PostgresRepository) ListTimelineEvents(ctx context.Context, invoiceID uuid.UUID, limit int) ([]domain.TimelineEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT event_id, invoice_id, level, event_type, channel, occurred_at, message, metadata
		FROM timeline_events
		WHERE invoice_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, invoiceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var (
			event    domain.TimelineEvent
			rawLevel string
			channel  *string
			metadata []byte
		)
		err := rows.Scan(&event.EventID, &event.InvoiceID, &rawLevel, &event.EventType, &channel, &event.OccurredAt, &event.Message, &metadata)
		if err != nil {
			return nil, err
		}
		level, err := domain.ParseEscalationLevel(rawLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid timeline row %s: %w", event.EventID, err)
		}
		event.Level = level
		if channel != nil {
			event.Channel = domain.Channel(*channel)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("invalid timeline metadata on %s: %w", event.EventID, err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// RecordCollectionAttempt appends one row to the dispatch log.
func (r *PostgresRepository) RecordCollectionAttempt(ctx context.Context, attempt domain.CollectionAttempt) error {
	query := `
		INSERT INTO collection_attempts (id, invoice_id, level, type, status, provider_message_id, template_key, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Exec(ctx, query,
		attempt.ID, attempt.InvoiceID, string(attempt.Level), attempt.Type,
		attempt.Status, attempt.ProviderMessageID, attempt.TemplateKey,
		attempt.FailureReason, attempt.CreatedAt,
	)
	return err
}

// HasAgencyReferral reports whether a live referral row exists for the
// invoice at any level.
func (r *PostgresRepository) HasAgencyReferral(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM collection_attempts
			WHERE invoice_id = $1 AND type = 'agency_referral' AND status IN ('queued', 'sent', 'delivered')
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, invoiceID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasCollectionAttempt reports whether any non-failed attempt exists for the
// (invoice, level) pair. queued/sent/delivered block a repeat; failed does not.
func (r *PostgresRepository) HasCollectionAttempt(ctx context.Context, invoiceID uuid.UUID, level domain.EscalationLevel) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM collection_attempts
			WHERE invoice_id = $1 AND level = $2 AND status IN ('queued', 'sent', 'delivered')
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, invoiceID, string(level)).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

const paymentClaimColumns = `
	id, invoice_id, freelancer_id, amount_pence, payment_method, reference,
	evidence_note, paid_at, status, verification_deadline, reminder_24h_sent,
	reminder_24h_sent_at, reminder_6h_sent, reminder_6h_sent_at, auto_rejected,
	verified_at, rejected_at, rejected_reason, created_at, updated_at`

func scanPaymentClaim(row rowScanner) (*domain.PaymentClaim, error) {
	var claim domain.PaymentClaim
	err := row.Scan(
		&claim.ID, &claim.InvoiceID, &claim.FreelancerID, &claim.AmountPence,
		&claim.PaymentMethod, &claim.Reference, &claim.EvidenceNote, &claim.PaidAt,
		&claim.Status, &claim.VerificationDeadline, &claim.Reminder24hSent,
		&claim.Reminder24hSentAt, &claim.Reminder6hSent, &claim.Reminder6hSentAt,
		&claim.AutoRejected, &claim.VerifiedAt, &claim.RejectedAt,
		&claim.RejectedReason, &claim.CreatedAt, &claim.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// CreatePaymentClaim inserts a claim unless the invoice already has one
// pending verification. The NOT EXISTS guard plus the partial unique index
// makes the one-active-claim rule hold under concurrent submissions.
func (r *PostgresRepository) CreatePaymentClaim(ctx context.Context, claim domain.PaymentClaim) error {
	query := `
		INSERT INTO payment_claims (id, invoice_id, freelancer_id, amount_pence, payment_method,
			reference, evidence_note, paid_at, status, verification_deadline, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, 'pending_verification', $9, NOW(), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM payment_claims WHERE invoice_id = $2 AND status = 'pending_verification'
		)
	`
	result, err := r.db.Exec(ctx, query,
		claim.ID, claim.InvoiceID, claim.FreelancerID, claim.AmountPence,
		claim.PaymentMethod, claim.Reference, claim.EvidenceNote, claim.PaidAt,
		claim.VerificationDeadline,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrActiveClaimExists
	}
	return nil
}

// FindPaymentClaimByID retrieves a single claim.
func (r *PostgresRepository) FindPaymentClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.PaymentClaim, error) {
	query := `SELECT ` + paymentClaimColumns + ` FROM payment_claims WHERE id = $1`
	claim, err := scanPaymentClaim(r.db.QueryRow(ctx, query, claimID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return claim, nil
}

// ListPendingPaymentClaims returns claims awaiting verification, nearest
// deadline first so the sweep handles the most urgent work inside its cap.
func (r *PostgresRepository) ListPendingPaymentClaims(ctx context.Context, limit int) ([]domain.PaymentClaim, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + paymentClaimColumns + `
		FROM payment_claims
		WHERE status = 'pending_verification'
		ORDER BY verification_deadline ASC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []domain.PaymentClaim
	for rows.Next() {
		claim, err := scanPaymentClaim(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, *claim)
	}
	return claims, rows.Err()
}

// MarkPaymentClaimVerified transitions a pending claim to verified. Returns
// false when the claim was already finalized by someone else.
func (r *PostgresRepository) MarkPaymentClaimVerified(ctx context.Context, claimID uuid.UUID, verifiedAt time.Time) (bool, error) {
	query := `
		UPDATE payment_claims
		SET status = 'verified', verified_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_verification'
	`
	result, err := r.db.Exec(ctx, query, claimID, verifiedAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// MarkPaymentClaimRejected transitions a pending claim to rejected.
func (r *PostgresRepository) MarkPaymentClaimRejected(ctx context.Context, claimID uuid.UUID, reason *string, rejectedAt time.Time) (bool, error) {
	query := `
		UPDATE payment_claims
		SET status = 'rejected', rejected_at = $2, rejected_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_verification'
	`
	result, err := r.db.Exec(ctx, query, claimID, rejectedAt, reason)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// MarkPaymentClaimExpired auto-rejects a claim whose verification window
// lapsed with no freelancer action.
func (r *PostgresRepository) MarkPaymentClaimExpired(ctx context.Context, claimID uuid.UUID, expiredAt time.Time) (bool, error) {
	query := `
		UPDATE payment_claims
		SET status = 'expired', auto_rejected = TRUE, rejected_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending_verification'
	`
	result, err := r.db.Exec(ctx, query, claimID, expiredAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// MarkClaimReminderSent claims one of the reminder flags before the sweep
// sends the matching nudge. False means another pass already sent it.
func (r *PostgresRepository) MarkClaimReminderSent(ctx context.Context, claimID uuid.UUID, window ClaimReminderWindow, sentAt time.Time) (bool, error) {
	var query string
	switch window {
	case ClaimReminderFirst:
		query = `
			UPDATE payment_claims
			SET reminder_24h_sent = TRUE, reminder_24h_sent_at = $2, updated_at = NOW()
			WHERE id = $1 AND reminder_24h_sent = FALSE AND status = 'pending_verification'
		`
	case ClaimReminderUrgent:
		query = `
			UPDATE payment_claims
			SET reminder_6h_sent = TRUE, reminder_6h_sent_at = $2, updated_at = NOW()
			WHERE id = $1 AND reminder_6h_sent = FALSE AND status = 'pending_verification'
		`
	default:
		return false, fmt.Errorf("unknown claim reminder window %q", window)
	}
	result, err := r.db.Exec(ctx, query, claimID, sentAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// GetFreelancer loads the freelancer slice the engine needs for templates,
// tier gating, and claim notifications.
func (r *PostgresRepository) GetFreelancer(ctx context.Context, freelancerID uuid.UUID) (*domain.Freelancer, error) {
	var freelancer domain.Freelancer
	query := `SELECT id, email, full_name, business_name, subscription_tier FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, freelancerID).Scan(
		&freelancer.ID, &freelancer.Email, &freelancer.FullName,
		&freelancer.BusinessName, &freelancer.SubscriptionTier,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrFreelancerNotFound
		}
		return nil, err
	}
	return &freelancer, nil
}

// GetAutomationConfig loads a freelancer's collections settings. A freelancer
// who never opened the settings screen has no row and gets the defaults.
func (r *PostgresRepository) GetAutomationConfig(ctx context.Context, freelancerID uuid.UUID) (*domain.AutomationConfig, error) {
	var cfg domain.AutomationConfig
	query := `
		SELECT freelancer_id, enabled, email_enabled, sms_enabled, letter_enabled,
			voice_enabled, pause_on_payment_claim, pause_on_dispute
		FROM collections_settings
		WHERE freelancer_id = $1
	`
	err := r.db.QueryRow(ctx, query, freelancerID).Scan(
		&cfg.FreelancerID, &cfg.Enabled, &cfg.EmailEnabled, &cfg.SMSEnabled,
		&cfg.LetterEnabled, &cfg.VoiceEnabled, &cfg.PauseOnPaymentClaim, &cfg.PauseOnDispute,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			defaults := domain.DefaultAutomationConfig(freelancerID)
			return &defaults, nil
		}
		return nil, err
	}
	return &cfg, nil
}

// GetCollectionsConsent loads the contact consent record for a client.
// Callers treat ErrConsentNotFound as "email only".
func (r *PostgresRepository) GetCollectionsConsent(ctx context.Context, clientID uuid.UUID) (*domain.CollectionsConsent, error) {
	var consent domain.CollectionsConsent
	query := `
		SELECT client_id, sms_consent, voice_consent, letter_consent, consent_recorded_at,
			email_opt_out, sms_opt_out, voice_opt_out, letter_opt_out, opt_out_recorded_at
		FROM collections_consent
		WHERE client_id = $1
	`
	err := r.db.QueryRow(ctx, query, clientID).Scan(
		&consent.ClientID, &consent.SMSConsent, &consent.VoiceConsent,
		&consent.LetterConsent, &consent.ConsentRecordedAt, &consent.EmailOptOut,
		&consent.SMSOptOut, &consent.VoiceOptOut, &consent.LetterOptOut,
		&consent.OptOutRecordedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrConsentNotFound
		}
		return nil, err
	}
	return &consent, nil
}
