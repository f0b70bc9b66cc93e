/**
 * @description
 * Channel dispatch for collection reminders. When an invoice crosses into a
 * new escalation level the dispatcher fans out across that level's channels,
 * narrowing the set through the freelancer's settings, the client's consent
 * record, subscription tier gates, and provider eligibility (no phone means
 * no SMS or voice, no postal address means no letter). Every send is logged
 * as a collection_attempts row; successes also append a reminder_sent
 * timeline event and emit analytics.
 *
 * Send failures are recorded and logged but never abort the fan-out or roll
 * back the level transition that triggered it.
 */

package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/domain"
	"github.com/recoup/collections-engine/pkg/agencyclient"
	"github.com/recoup/collections-engine/pkg/lobclient"
	"github.com/recoup/collections-engine/pkg/sendgridclient"
)

// tierAllowsChannel gates channels by subscription tier: starter accounts
// collect by email only, growth and pro unlock the paid channels.
func tierAllowsChannel(tier string, channel domain.Channel) bool {
	switch tier {
	case domain.TierGrowth, domain.TierPro:
		return true
	default:
		return channel == domain.ChannelEmail
	}
}

// channelBlocked returns the reason a channel cannot be used for this
// invoice, or "" when it can. Consent is checked separately because it needs
// a store read.
func (s *Service) channelBlocked(inv *domain.Invoice, freelancer *domain.Freelancer, channel domain.Channel, level domain.EscalationLevel) string {
	if !tierAllowsChannel(freelancer.SubscriptionTier, channel) {
		return "channel not included in subscription tier"
	}
	switch channel {
	case domain.ChannelEmail:
		if s.senders.Email == nil {
			return "email provider not configured"
		}
	case domain.ChannelSMS:
		if s.senders.SMS == nil {
			return "sms provider not configured"
		}
		if !inv.HasPhone() {
			return "client has no phone number"
		}
	case domain.ChannelVoice:
		if s.senders.Voice == nil {
			return "voice provider not configured"
		}
		if !inv.HasPhone() {
			return "client has no phone number"
		}
		if domain.LevelFinal.After(level) {
			return "voice calls start at the final demand stage"
		}
	case domain.ChannelLetter:
		if s.senders.Letter == nil {
			return "letter provider not configured"
		}
		if !inv.HasPostalAddress() {
			return "client has no postal address"
		}
	default:
		return "unknown channel"
	}
	return ""
}

// dispatchReminders runs the full fan-out for an invoice at a level and
// returns how many sends were attempted. A zero return means the guards
// swallowed the dispatch (already sent, daily cap, or no usable channels).
func (s *Service) dispatchReminders(ctx context.Context, inv *domain.Invoice, level domain.EscalationLevel, daysOverdue int) int {
	if level == domain.LevelPending {
		return 0
	}

	// The attempt log is the authoritative duplicate guard: any non-failed
	// attempt at this level means a previous run already delivered it.
	alreadySent, err := s.repo.HasCollectionAttempt(ctx, inv.ID, level)
	if err != nil {
		s.logger.Warn("duplicate-send check failed, skipping dispatch", "invoice_id", inv.ID, "level", level, "error", err)
		return 0
	}
	if alreadySent {
		return 0
	}

	// Secondary day bucket, so a double-fired run cannot contact the same
	// client twice in one day even before the attempt rows land.
	allowed, err := s.guard.AllowDailyAction(ctx, inv.ID, s.now().UTC())
	if err != nil {
		s.logger.Warn("daily action guard unavailable, proceeding", "invoice_id", inv.ID, "error", err)
	} else if !allowed {
		s.logger.Info("daily action guard already claimed, skipping dispatch", "invoice_id", inv.ID, "level", level)
		return 0
	}

	freelancer, err := s.repo.GetFreelancer(ctx, inv.FreelancerID)
	if err != nil {
		s.logger.Error("failed to load freelancer for dispatch", "invoice_id", inv.ID, "freelancer_id", inv.FreelancerID, "error", err)
		return 0
	}
	autoCfg, err := s.repo.GetAutomationConfig(ctx, inv.FreelancerID)
	if err != nil {
		s.logger.Error("failed to load automation config for dispatch", "invoice_id", inv.ID, "error", err)
		return 0
	}
	consent := s.consentFor(ctx, inv.ClientID)
	data := s.templateDataFor(inv, freelancer, daysOverdue)

	attempted := 0
	for _, channel := range ChannelsForLevel(level) {
		if !autoCfg.ChannelEnabled(channel) {
			continue
		}
		if !consent.Allows(channel) {
			s.logger.Info("channel skipped, no consent", "invoice_id", inv.ID, "channel", channel)
			continue
		}
		if reason := s.channelBlocked(inv, freelancer, channel, level); reason != "" {
			s.logger.Info("channel skipped", "invoice_id", inv.ID, "channel", channel, "reason", reason)
			continue
		}

		budgetOK, remaining, err := s.guard.ConsumeTierBudget(ctx, inv.FreelancerID, freelancer.SubscriptionTier)
		if err != nil {
			s.logger.Warn("action budget check failed, proceeding", "freelancer_id", inv.FreelancerID, "error", err)
		} else if !budgetOK {
			s.logger.Warn("action budget exhausted, channel skipped", "invoice_id", inv.ID, "channel", channel)
			s.recordAttempt(ctx, s.failedAttempt(inv.ID, level, string(channel), "action budget exhausted"))
			continue
		} else if remaining > 0 && remaining <= 10 {
			s.logger.Warn("action budget nearly exhausted", "freelancer_id", inv.FreelancerID, "remaining", remaining)
		}

		s.sendOnChannel(ctx, inv, freelancer, level, channel, data)
		attempted++
	}

	// The agency stage also hands the case over, once, for pro accounts.
	if level == domain.LevelAgency && freelancer.SubscriptionTier == domain.TierPro && s.senders.Agency != nil {
		if _, err := s.referToAgency(ctx, inv, freelancer, level, daysOverdue); err != nil {
			s.logger.Warn("agency referral not made", "invoice_id", inv.ID, "error", err)
		} else {
			attempted++
		}
	}

	return attempted
}

// sendOnChannel renders and sends one message, records the attempt, and on
// success appends the timeline event and emits analytics.
func (s *Service) sendOnChannel(ctx context.Context, inv *domain.Invoice, freelancer *domain.Freelancer, level domain.EscalationLevel, channel domain.Channel, data TemplateData) *domain.CollectionAttempt {
	providerID, err := s.deliver(ctx, inv, freelancer, level, channel, data)

	templateKey := TemplateKey(level, channel)
	var attempt domain.CollectionAttempt
	if err != nil {
		s.logger.Error("send failed", "invoice_id", inv.ID, "channel", channel, "level", level, "error", err)
		attempt = s.failedAttempt(inv.ID, level, string(channel), err.Error())
		attempt.TemplateKey = &templateKey
	} else {
		attempt = domain.CollectionAttempt{
			ID:          uuid.New(),
			InvoiceID:   inv.ID,
			Level:       level,
			Type:        string(channel),
			Status:      domain.AttemptStatusSent,
			TemplateKey: &templateKey,
			CreatedAt:   s.now().UTC(),
		}
		if providerID != "" {
			attempt.ProviderMessageID = &providerID
		}
	}
	s.recordAttempt(ctx, attempt)

	if err == nil {
		_ = s.appendTimeline(ctx, inv.ID, level, domain.EventReminderSent, channel,
			fmt.Sprintf("%s reminder sent (%s level)", channel, level),
			map[string]any{"provider_message_id": providerID, "template_key": templateKey})

		s.analytics.Emit(ctx, EventCollectionsReminderSent, map[string]interface{}{
			"invoice_id":    inv.ID.String(),
			"freelancer_id": inv.FreelancerID.String(),
			"level":         string(level),
			"channel":       string(channel),
		})
		s.logger.Info("reminder sent", "invoice_id", inv.ID, "channel", channel, "level", level, "provider_message_id", providerID)
	}
	return &attempt
}

// deliver calls the provider for one channel and returns its message id.
func (s *Service) deliver(ctx context.Context, inv *domain.Invoice, freelancer *domain.Freelancer, level domain.EscalationLevel, channel domain.Channel, data TemplateData) (string, error) {
	switch channel {
	case domain.ChannelEmail:
		subject, body, err := RenderEmail(level, data)
		if err != nil {
			return "", err
		}
		return s.senders.Email.Send(ctx, sendgridclient.Email{
			FromEmail:    s.config.CollectionsFromEmail,
			FromName:     data.BusinessName,
			ReplyToEmail: freelancer.Email,
			ToEmail:      inv.ClientEmail,
			ToName:       inv.ClientName,
			Subject:      subject,
			TextBody:     body,
		})

	case domain.ChannelSMS:
		body, err := RenderSMS(level, data)
		if err != nil {
			return "", err
		}
		return s.senders.SMS.SendSMS(ctx, s.config.TwilioFromNumber, *inv.ClientPhone, body)

	case domain.ChannelVoice:
		twiml, err := RenderVoiceScript(level, data)
		if err != nil {
			return "", err
		}
		return s.senders.Voice.PlaceCall(ctx, s.config.TwilioFromNumber, *inv.ClientPhone, twiml)

	case domain.ChannelLetter:
		html, err := RenderLetterHTML(level, data)
		if err != nil {
			return "", err
		}
		letter := lobclient.LetterRequest{
			Description: fmt.Sprintf("Collections letter %s for %s", level, inv.Reference),
			To:          letterAddress(inv),
			From: lobclient.Address{
				Name:         data.BusinessName,
				AddressLine1: "c/o Recoup Ltd, 1 Long Lane",
				AddressCity:  "London",
				AddressZip:   "SE1 4PG",
				Country:      "GB",
			},
			File:  html,
			Color: false,
		}
		resp, err := s.senders.Letter.CreateLetter(ctx, letter)
		if err != nil {
			return "", err
		}
		return resp.ID, nil
	}
	return "", fmt.Errorf("no provider for channel %s", channel)
}

// referToAgency performs the one-time case handover to the partner agency.
func (s *Service) referToAgency(ctx context.Context, inv *domain.Invoice, freelancer *domain.Freelancer, level domain.EscalationLevel, daysOverdue int) (*domain.CollectionAttempt, error) {
	if s.senders.Agency == nil {
		return nil, ErrChannelNotAvailable
	}
	already, err := s.repo.HasAgencyReferral(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for an existing referral: %w", err)
	}
	if already {
		return nil, ErrAlreadyReferred
	}

	referral := agencyclient.ReferralRequest{
		InvoiceID:             inv.ID.String(),
		InvoiceReference:      inv.Reference,
		AmountPence:           inv.AmountPence,
		Currency:              inv.Currency,
		DaysOverdue:           daysOverdue,
		CommissionRatePercent: AgencyCommissionRatePercent(daysOverdue),
		CreditorName:          freelancer.DisplayName(),
		CreditorEmail:         freelancer.Email,
		DebtorName:            inv.ClientName,
		DebtorEmail:           inv.ClientEmail,
	}
	if inv.ClientPhone != nil {
		referral.DebtorPhone = *inv.ClientPhone
	}
	if inv.ClientAddressLine1 != nil {
		referral.DebtorAddressLine1 = *inv.ClientAddressLine1
	}
	if inv.ClientAddressLine2 != nil {
		referral.DebtorAddressLine2 = *inv.ClientAddressLine2
	}
	if inv.ClientCity != nil {
		referral.DebtorCity = *inv.ClientCity
	}
	if inv.ClientPostcode != nil {
		referral.DebtorPostcode = *inv.ClientPostcode
	}

	resp, err := s.senders.Agency.SubmitReferral(ctx, referral)
	if err != nil {
		s.logger.Error("agency referral failed", "invoice_id", inv.ID, "error", err)
		attempt := s.failedAttempt(inv.ID, level, domain.AttemptTypeAgencyReferral, err.Error())
		s.recordAttempt(ctx, attempt)
		return &attempt, fmt.Errorf("failed to submit agency referral: %w", err)
	}

	attempt := domain.CollectionAttempt{
		ID:        uuid.New(),
		InvoiceID: inv.ID,
		Level:     level,
		Type:      domain.AttemptTypeAgencyReferral,
		Status:    domain.AttemptStatusSent,
		CreatedAt: s.now().UTC(),
	}
	if resp.ReferralID != "" {
		attempt.ProviderMessageID = &resp.ReferralID
	}
	s.recordAttempt(ctx, attempt)

	_ = s.appendTimeline(ctx, inv.ID, level, domain.EventReminderSent, "",
		fmt.Sprintf("Case referred to debt collection agency (case %s)", resp.CaseNumber),
		map[string]any{"referral_id": resp.ReferralID, "case_number": resp.CaseNumber})

	s.analytics.Emit(ctx, EventCollectionsAgencyReferred, map[string]interface{}{
		"invoice_id":              inv.ID.String(),
		"freelancer_id":           inv.FreelancerID.String(),
		"referral_id":             resp.ReferralID,
		"case_number":             resp.CaseNumber,
		"commission_rate_percent": referral.CommissionRatePercent,
		"amount_pence":            inv.AmountPence,
	})
	s.logger.Info("case referred to agency", "invoice_id", inv.ID, "referral_id", resp.ReferralID, "case_number", resp.CaseNumber)
	return &attempt, nil
}

// recordAttempt writes one dispatch-log row; failures are logged because the
// attempt log also backs the duplicate-send guard.
func (s *Service) recordAttempt(ctx context.Context, attempt domain.CollectionAttempt) {
	if err := s.repo.RecordCollectionAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record collection attempt", "invoice_id", attempt.InvoiceID, "type", attempt.Type, "error", err)
	}
}

func (s *Service) failedAttempt(invoiceID uuid.UUID, level domain.EscalationLevel, attemptType, reason string) domain.CollectionAttempt {
	return domain.CollectionAttempt{
		ID:            uuid.New(),
		InvoiceID:     invoiceID,
		Level:         level,
		Type:          attemptType,
		Status:        domain.AttemptStatusFailed,
		FailureReason: &reason,
		CreatedAt:     s.now().UTC(),
	}
}

func letterAddress(inv *domain.Invoice) lobclient.Address {
	addr := lobclient.Address{
		Name:    inv.ClientName,
		Country: "GB",
	}
	if inv.ClientAddressLine1 != nil {
		addr.AddressLine1 = *inv.ClientAddressLine1
	}
	if inv.ClientAddressLine2 != nil {
		addr.AddressLine2 = *inv.ClientAddressLine2
	}
	if inv.ClientCity != nil {
		addr.AddressCity = *inv.ClientCity
	}
	if inv.ClientPostcode != nil {
		addr.AddressZip = *inv.ClientPostcode
	}
	return addr
}
