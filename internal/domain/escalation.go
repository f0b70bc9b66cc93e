/**
 * @description
 * Core collections domain types: the ordered escalation level, the per-invoice
 * escalation state record, the append-only timeline event, and the
 * collection-attempt dispatch log that backs the duplicate-send guard.
 *
 * @notes
 * - `EscalationLevel` ordering is defined by `Rank`; the engine only ever
 *   moves a state to a strictly higher rank.
 * - Timeline event ids are derived deterministically from the event's
 *   identifying fields so a retried append converges on the same row.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EscalationLevel is the collections-intensity stage assigned to an overdue
// invoice, ordered from pending (no pressure yet) to agency referral.
type EscalationLevel string

const (
	LevelPending EscalationLevel = "pending"
	LevelGentle  EscalationLevel = "gentle"
	LevelFirm    EscalationLevel = "firm"
	LevelFinal   EscalationLevel = "final"
	LevelAgency  EscalationLevel = "agency"
)

var levelRanks = map[EscalationLevel]int{
	LevelPending: 0,
	LevelGentle:  1,
	LevelFirm:    2,
	LevelFinal:   3,
	LevelAgency:  4,
}

// Rank returns the level's position in the escalation order, or -1 for an
// unknown level so malformed values never compare as escalatable.
func (l EscalationLevel) Rank() int {
	rank, ok := levelRanks[l]
	if !ok {
		return -1
	}
	return rank
}

// After reports whether l is strictly higher in the escalation order.
func (l EscalationLevel) After(other EscalationLevel) bool {
	return l.Rank() > other.Rank()
}

// ParseEscalationLevel validates a stored level string. Unknown values are
// rejected rather than defaulted so corrupt rows surface at the store
// boundary.
func ParseEscalationLevel(value string) (EscalationLevel, error) {
	level := EscalationLevel(value)
	if _, ok := levelRanks[level]; !ok {
		return "", fmt.Errorf("unknown escalation level %q", value)
	}
	return level, nil
}

// PauseReason explains why escalation progress is suspended for an invoice.
type PauseReason string

const (
	PauseReasonPaymentClaim PauseReason = "payment_claim"
	PauseReasonDispute      PauseReason = "dispute"
	PauseReasonManual       PauseReason = "manual"
)

// EscalationState is the one-per-invoice record the worker reads and
// advances. It is created lazily on the first visit to an overdue invoice
// and retained forever for audit.
type EscalationState struct {
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	CurrentLevel    EscalationLevel `json:"current_level"`
	IsPaused        bool            `json:"is_paused"`
	PauseReason     *PauseReason    `json:"pause_reason,omitempty"`
	PausedAt        *time.Time      `json:"paused_at,omitempty"`
	PauseUntil      *time.Time      `json:"pause_until,omitempty"`
	LastEscalatedAt *time.Time      `json:"last_escalated_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PauseDeadlinePassed reports whether a timed pause has lapsed. Pauses
// without a deadline (manual stops, disputes) never auto-resume.
func (s *EscalationState) PauseDeadlinePassed(now time.Time) bool {
	return s.IsPaused && s.PauseUntil != nil && now.After(*s.PauseUntil)
}

// Channel is a notification medium used to deliver a collections reminder.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelLetter Channel = "letter"
	ChannelVoice  Channel = "voice"
)

// Timeline event types. The timeline vocabulary is closed: every collections
// action an invoice experiences is one of these four.
const (
	EventEscalated    = "escalated"
	EventPaused       = "paused"
	EventResumed      = "resumed"
	EventReminderSent = "reminder_sent"
)

// timelineNamespace seeds the deterministic SHA1 event ids.
var timelineNamespace = uuid.MustParse("b4a6f1da-9e05-4c52-a1fb-3c5de17a8f21")

// TimelineEvent is one immutable entry in an invoice's collections audit
// trail. Display ordering is by OccurredAt descending.
type TimelineEvent struct {
	EventID    uuid.UUID       `json:"event_id"`
	InvoiceID  uuid.UUID       `json:"invoice_id"`
	Level      EscalationLevel `json:"level"`
	EventType  string          `json:"event_type"` // e.g. 'escalated', 'reminder_sent'
	Channel    Channel         `json:"channel,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Message    string          `json:"message"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// NewTimelineEvent builds an event with an id derived from the identifying
// fields. Re-deriving with the same inputs yields the same id, which makes
// store appends safe to retry.
func NewTimelineEvent(invoiceID uuid.UUID, level EscalationLevel, eventType string, channel Channel, occurredAt time.Time, message string, metadata map[string]any) TimelineEvent {
	key := fmt.Sprintf("%s|%s|%s|%s|%d", invoiceID, eventType, level, channel, occurredAt.UTC().Unix())
	return TimelineEvent{
		EventID:    uuid.NewSHA1(timelineNamespace, []byte(key)),
		InvoiceID:  invoiceID,
		Level:      level,
		EventType:  eventType,
		Channel:    channel,
		OccurredAt: occurredAt.UTC(),
		Message:    message,
		Metadata:   metadata,
	}
}

// Collection attempt types. These extend the channel set with the one-time
// agency referral, which is an action but not a client notification medium.
const (
	AttemptTypeEmail          = "email"
	AttemptTypeSMS            = "sms"
	AttemptTypeLetter         = "letter"
	AttemptTypeVoice          = "voice"
	AttemptTypeAgencyReferral = "agency_referral"
)

// Collection attempt statuses. Anything except 'failed' blocks a repeat send
// at the same (invoice, level) pair.
const (
	AttemptStatusQueued    = "queued"
	AttemptStatusSent      = "sent"
	AttemptStatusDelivered = "delivered"
	AttemptStatusFailed    = "failed"
)

// CollectionAttempt is one row in the dispatch log. The duplicate-send guard
// reads this log; the timeline shows the successes to the freelancer.
type CollectionAttempt struct {
	ID                uuid.UUID       `json:"id"`
	InvoiceID         uuid.UUID       `json:"invoice_id"`
	Level             EscalationLevel `json:"level"`
	Type              string          `json:"type"`   // e.g. 'email', 'agency_referral'
	Status            string          `json:"status"` // e.g. 'sent', 'failed'
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	TemplateKey       *string         `json:"template_key,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// EscalationRunSummary is returned by one escalation worker run.
type EscalationRunSummary struct {
	Scanned   int      `json:"scanned"`
	Escalated int      `json:"escalated"`
	Paused    int      `json:"paused"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// VerificationSweepSummary is returned by one payment-claim sweep run.
type VerificationSweepSummary struct {
	Scanned         int      `json:"scanned"`
	Expired         int      `json:"expired"`
	RemindersFirst  int      `json:"reminders_first"`
	RemindersUrgent int      `json:"reminders_urgent"`
	Errors          []string `json:"errors"`
}
