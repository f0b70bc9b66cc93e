/**
 * @description
 * This file contains the core business logic for the collections engine. The
 * `Service` struct coordinates the repository, the channel providers, the
 * Redis guards, and the analytics producer behind every collections
 * operation: the scheduled escalation and verification runs, the freelancer
 * dashboard actions, and the public payment-claim flow.
 *
 * Key features:
 * - Pause/resume as the only mutators of the pause fields, each always
 *   paired with a timeline event and an analytics emit.
 * - Ownership checks on every freelancer-facing read and write; a mismatch
 *   reads as not-found so the API never confirms another account's invoices.
 * - A `now` hook so tests can pin the clock.
 *
 * @dependencies
 * - internal/store, internal/domain, internal/config: Persistence and models.
 * - pkg/sendgridclient, pkg/lobclient, pkg/agencyclient: Provider payload types.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/config"
	"github.com/recoup/collections-engine/internal/domain"
	"github.com/recoup/collections-engine/internal/store"
	"github.com/recoup/collections-engine/pkg/agencyclient"
	"github.com/recoup/collections-engine/pkg/lobclient"
	"github.com/recoup/collections-engine/pkg/sendgridclient"
)

var (
	ErrClaimFinalized        = errors.New("payment claim has already been finalized")
	ErrInvoiceNotCollectable = errors.New("invoice is not eligible for a payment claim")
	ErrChannelNotAvailable   = errors.New("channel is not available for this invoice")
	ErrActionBudgetExhausted = errors.New("collections action budget is exhausted")
	ErrAlreadyReferred       = errors.New("invoice has already been referred to the agency")
	ErrUnknownAction         = errors.New("unknown collection action")
)

// EmailSender sends one reminder email and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, email sendgridclient.Email) (string, error)
}

// SMSSender sends one reminder text and returns the provider message id.
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, body string) (string, error)
}

// VoiceCaller places one automated reminder call.
type VoiceCaller interface {
	PlaceCall(ctx context.Context, from, to, twiml string) (string, error)
}

// LetterSender posts one physical letter.
type LetterSender interface {
	CreateLetter(ctx context.Context, letter lobclient.LetterRequest) (*lobclient.LetterResponse, error)
}

// AgencyReferrer hands a case to the partner collection agency.
type AgencyReferrer interface {
	SubmitReferral(ctx context.Context, referral agencyclient.ReferralRequest) (*agencyclient.ReferralResponse, error)
}

// ActionGuard bounds dispatch frequency. Both checks are advisory; callers
// fail open on errors because the attempt log is the authoritative guard.
type ActionGuard interface {
	AllowDailyAction(ctx context.Context, invoiceID uuid.UUID, day time.Time) (bool, error)
	ConsumeTierBudget(ctx context.Context, freelancerID uuid.UUID, tier string) (allowed bool, remaining int, err error)
}

// Senders bundles the channel providers the dispatcher fans out to. Any nil
// provider simply makes its channel unavailable.
type Senders struct {
	Email  EmailSender
	SMS    SMSSender
	Voice  VoiceCaller
	Letter LetterSender
	Agency AgencyReferrer
}

// Service provides the core business logic for the collections engine.
type Service struct {
	repo      store.Repository
	senders   Senders
	guard     ActionGuard
	analytics *Analytics
	policy    LevelPolicy
	interest  InterestCalculator
	logger    *slog.Logger
	config    config.Config
	now       func() time.Time
}

// NewService creates a new collections service instance.
func NewService(repo store.Repository, senders Senders, guard ActionGuard, analytics *Analytics, logger *slog.Logger, cfg config.Config) *Service {
	return &Service{
		repo:      repo,
		senders:   senders,
		guard:     guard,
		analytics: analytics,
		policy:    NewLevelPolicy(cfg),
		interest:  NewInterestCalculator(cfg),
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
}

// invoiceForFreelancer loads an invoice and verifies it belongs to the
// authenticated freelancer. Mismatches read as not found.
func (s *Service) invoiceForFreelancer(ctx context.Context, freelancerID, invoiceID uuid.UUID) (*domain.Invoice, error) {
	inv, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.FreelancerID != freelancerID {
		return nil, store.ErrInvoiceNotFound
	}
	return inv, nil
}

// appendTimeline writes one audit event. Append failures are returned for
// the caller to record, but never stop the surrounding operation.
func (s *Service) appendTimeline(ctx context.Context, invoiceID uuid.UUID, level domain.EscalationLevel, eventType string, channel domain.Channel, message string, metadata map[string]any) error {
	event := domain.NewTimelineEvent(invoiceID, level, eventType, channel, s.now().UTC(), message, metadata)
	if err := s.repo.AppendTimelineEvent(ctx, event); err != nil {
		s.logger.Error("failed to append timeline event", "invoice_id", invoiceID, "event_type", eventType, "error", err)
		return fmt.Errorf("failed to append %s event for invoice %s: %w", eventType, invoiceID, err)
	}
	return nil
}

// paymentLink is the public payment page for an invoice.
func (s *Service) paymentLink(invoiceID uuid.UUID) string {
	return strings.TrimSuffix(s.config.PaymentLinkBaseURL, "/") + "/" + invoiceID.String()
}

// templateDataFor assembles the message view for an invoice, including the
// statutory interest figures the firmer levels quote.
func (s *Service) templateDataFor(inv *domain.Invoice, freelancer *domain.Freelancer, daysOverdue int) TemplateData {
	breakdown := s.interest.Accrue(inv.AmountPence, daysOverdue, s.now().UTC())
	return TemplateData{
		ClientName:       inv.ClientName,
		FreelancerName:   freelancer.FullName,
		BusinessName:     freelancer.DisplayName(),
		InvoiceReference: inv.Reference,
		AmountDue:        FormatPence(inv.AmountPence),
		DaysOverdue:      daysOverdue,
		InterestAccrued:  FormatPence(breakdown.AccruedPence),
		Compensation:     FormatPence(breakdown.CompensationPence),
		TotalDue:         FormatPence(breakdown.TotalDuePence),
		PaymentLink:      s.paymentLink(inv.ID),
		DueDate:          FormatDueDate(inv.DueDate),
	}
}

// pauseEscalation suspends automation for an invoice, creating the state row
// if the worker has never visited it. Returns false when the invoice was
// already paused (the existing pause wins).
func (s *Service) pauseEscalation(ctx context.Context, inv *domain.Invoice, reason domain.PauseReason, pauseUntil *time.Time) (bool, error) {
	now := s.now().UTC()
	seedLevel := s.policy.LevelFor(inv.DaysOverdue(now))
	state, _, err := s.repo.GetOrCreateEscalationState(ctx, inv.ID, seedLevel)
	if err != nil {
		return false, fmt.Errorf("failed to load escalation state: %w", err)
	}

	ok, err := s.repo.SetEscalationPaused(ctx, inv.ID, reason, now, pauseUntil)
	if err != nil {
		return false, fmt.Errorf("failed to pause escalation: %w", err)
	}
	if !ok {
		return false, nil
	}

	metadata := map[string]any{"reason": string(reason)}
	message := fmt.Sprintf("Collections paused (%s)", reason)
	if pauseUntil != nil {
		metadata["pause_until"] = pauseUntil.UTC().Format(time.RFC3339)
		message = fmt.Sprintf("Collections paused (%s) until %s", reason, pauseUntil.UTC().Format(time.RFC3339))
	}
	_ = s.appendTimeline(ctx, inv.ID, state.CurrentLevel, domain.EventPaused, "", message, metadata)

	s.analytics.Emit(ctx, EventCollectionsPaused, map[string]interface{}{
		"invoice_id":    inv.ID.String(),
		"freelancer_id": inv.FreelancerID.String(),
		"level":         string(state.CurrentLevel),
		"reason":        string(reason),
	})
	s.logger.Info("escalation paused", "invoice_id", inv.ID, "reason", reason)
	return true, nil
}

// resumeEscalation lifts a pause. Returns false when there was no pause to
// lift, which keeps retried resumes from stacking duplicate events.
func (s *Service) resumeEscalation(ctx context.Context, invoiceID uuid.UUID, reason string) (bool, error) {
	state, err := s.repo.GetEscalationState(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrEscalationStateNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load escalation state: %w", err)
	}

	ok, err := s.repo.ClearEscalationPause(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("failed to resume escalation: %w", err)
	}
	if !ok {
		return false, nil
	}

	_ = s.appendTimeline(ctx, invoiceID, state.CurrentLevel, domain.EventResumed, "",
		fmt.Sprintf("Collections resumed (%s)", reason), map[string]any{"reason": reason})

	s.analytics.Emit(ctx, EventCollectionsResumed, map[string]interface{}{
		"invoice_id": invoiceID.String(),
		"level":      string(state.CurrentLevel),
		"reason":     reason,
	})
	s.logger.Info("escalation resumed", "invoice_id", invoiceID, "reason", reason)
	return true, nil
}

// CollectionsTimeline returns the invoice's audit trail, newest first.
func (s *Service) CollectionsTimeline(ctx context.Context, freelancerID, invoiceID uuid.UUID, limit int) ([]domain.TimelineEvent, error) {
	if _, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID); err != nil {
		return nil, err
	}
	return s.repo.ListTimelineEvents(ctx, invoiceID, limit)
}

// InterestForInvoice returns the statutory interest entitlement to date.
func (s *Service) InterestForInvoice(ctx context.Context, freelancerID, invoiceID uuid.UUID) (*InterestBreakdown, error) {
	inv, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	breakdown := s.interest.Accrue(inv.AmountPence, inv.DaysOverdue(now), now)
	return &breakdown, nil
}

// RecommendationForInvoice prices the recovery routes for an invoice.
func (s *Service) RecommendationForInvoice(ctx context.Context, freelancerID, invoiceID uuid.UUID) (*Recommendation, error) {
	inv, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	days := inv.DaysOverdue(now)
	breakdown := s.interest.Accrue(inv.AmountPence, days, now)
	rec := Recommend(s.policy, breakdown, days, now)
	return &rec, nil
}

// StopCollections pauses the invoice indefinitely and switches automated
// collections off. Safe to call on an already stopped invoice.
func (s *Service) StopCollections(ctx context.Context, freelancerID, invoiceID uuid.UUID) error {
	inv, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID)
	if err != nil {
		return err
	}
	if _, err := s.pauseEscalation(ctx, inv, domain.PauseReasonManual, nil); err != nil {
		return err
	}
	return s.repo.SetInvoiceCollectionsEnabled(ctx, invoiceID, false)
}

// ResumeCollections re-enables automated collections and lifts any pause.
func (s *Service) ResumeCollections(ctx context.Context, freelancerID, invoiceID uuid.UUID) error {
	if _, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID); err != nil {
		return err
	}
	if err := s.repo.SetInvoiceCollectionsEnabled(ctx, invoiceID, true); err != nil {
		return err
	}
	_, err := s.resumeEscalation(ctx, invoiceID, ResumeReasonManual)
	return err
}

// DisputeCollections marks the invoice disputed, which removes it from the
// escalation scan, and pauses it if the freelancer's settings say so.
func (s *Service) DisputeCollections(ctx context.Context, freelancerID, invoiceID uuid.UUID) error {
	inv, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID)
	if err != nil {
		return err
	}
	if err := s.repo.MarkInvoiceDisputed(ctx, invoiceID); err != nil {
		return err
	}

	autoCfg, err := s.repo.GetAutomationConfig(ctx, inv.FreelancerID)
	if err != nil {
		s.logger.Warn("failed to load automation config, pausing disputed invoice anyway", "invoice_id", invoiceID, "error", err)
	}
	if autoCfg == nil || autoCfg.PauseOnDispute {
		if _, err := s.pauseEscalation(ctx, inv, domain.PauseReasonDispute, nil); err != nil {
			return err
		}
	}
	return nil
}

// RunManualAction dispatches one freelancer-triggered collection action on
// an invoice, subject to the same tier, consent, and budget gates as the
// automated runs.
func (s *Service) RunManualAction(ctx context.Context, freelancerID, invoiceID uuid.UUID, action string) (*domain.CollectionAttempt, error) {
	inv, err := s.invoiceForFreelancer(ctx, freelancerID, invoiceID)
	if err != nil {
		return nil, err
	}

	freelancer, err := s.repo.GetFreelancer(ctx, freelancerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	days := inv.DaysOverdue(now)
	state, _, err := s.repo.GetOrCreateEscalationState(ctx, invoiceID, s.policy.LevelFor(days))
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation state: %w", err)
	}

	// Manual sends on an invoice still at pending use the gentle wording.
	level := state.CurrentLevel
	if level == domain.LevelPending {
		level = domain.LevelGentle
	}

	if action == domain.AttemptTypeAgencyReferral {
		if freelancer.SubscriptionTier != domain.TierPro {
			return nil, ErrChannelNotAvailable
		}
		return s.referToAgency(ctx, inv, freelancer, level, days)
	}

	channel := domain.Channel(action)
	switch channel {
	case domain.ChannelEmail, domain.ChannelSMS, domain.ChannelLetter, domain.ChannelVoice:
	default:
		return nil, ErrUnknownAction
	}

	if reason := s.channelBlocked(inv, freelancer, channel, level); reason != "" {
		s.logger.Info("manual action blocked", "invoice_id", invoiceID, "channel", channel, "reason", reason)
		return nil, ErrChannelNotAvailable
	}

	consent := s.consentFor(ctx, inv.ClientID)
	if !consent.Allows(channel) {
		return nil, ErrChannelNotAvailable
	}

	allowed, _, err := s.guard.ConsumeTierBudget(ctx, freelancerID, freelancer.SubscriptionTier)
	if err != nil {
		s.logger.Warn("action budget check failed, allowing manual action", "freelancer_id", freelancerID, "error", err)
	} else if !allowed {
		return nil, ErrActionBudgetExhausted
	}

	data := s.templateDataFor(inv, freelancer, days)
	attempt := s.sendOnChannel(ctx, inv, freelancer, level, channel, data)
	if attempt.Status == domain.AttemptStatusFailed && attempt.FailureReason != nil {
		return attempt, fmt.Errorf("failed to send %s: %s", channel, *attempt.FailureReason)
	}
	return attempt, nil
}

// consentFor loads the client's consent record, falling back to the
// email-only zero value when none exists or the store read fails.
func (s *Service) consentFor(ctx context.Context, clientID uuid.UUID) *domain.CollectionsConsent {
	consent, err := s.repo.GetCollectionsConsent(ctx, clientID)
	if err != nil {
		if !errors.Is(err, store.ErrConsentNotFound) {
			s.logger.Warn("failed to load collections consent, treating as email-only", "client_id", clientID, "error", err)
		}
		return &domain.CollectionsConsent{ClientID: clientID}
	}
	return consent
}
