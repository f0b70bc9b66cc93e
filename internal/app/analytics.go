/**
 * @description
 * Fire-and-forget analytics event emission. Every notable collections
 * moment publishes a JSON event to the topic exchange; consumers include
 * the analytics pipeline and the in-app notification feed. Publishing
 * failures are logged and swallowed so the broker can never block or fail
 * an escalation run.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// Routing keys for the collections topic exchange.
const (
	EventCollectionsEscalated      = "collections.escalated"
	EventCollectionsReminderSent   = "collections.reminder_sent"
	EventCollectionsPaused         = "collections.paused"
	EventCollectionsResumed        = "collections.resumed"
	EventCollectionsClaimFiled     = "collections.claim_filed"
	EventCollectionsClaimVerified  = "collections.claim_verified"
	EventCollectionsClaimRejected  = "collections.claim_rejected"
	EventCollectionsClaimExpired   = "collections.claim_expired"
	EventCollectionsAgencyReferred = "collections.agency_referred"
)

// Publisher is the broker surface the analytics layer needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// AnalyticsEvent is the envelope published for every event.
type AnalyticsEvent struct {
	Event      string                 `json:"event"`
	OccurredAt time.Time              `json:"occurred_at"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// Analytics wraps the producer with best-effort semantics.
type Analytics struct {
	producer Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalytics creates the analytics emitter. A nil producer yields a no-op
// emitter, which keeps local development working without a broker.
func NewAnalytics(producer Publisher, logger *slog.Logger) *Analytics {
	return &Analytics{
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// Emit publishes one event. Never returns an error; failures are warn-logged.
func (a *Analytics) Emit(ctx context.Context, event string, properties map[string]interface{}) {
	if a == nil || a.producer == nil {
		return
	}
	payload := AnalyticsEvent{
		Event:      event,
		OccurredAt: a.now().UTC(),
		Properties: properties,
	}
	if err := a.producer.Publish(ctx, event, payload); err != nil {
		a.logger.Warn("failed to publish analytics event", "event", event, "error", err)
	}
}
