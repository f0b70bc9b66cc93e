/**
 * @description
 * Payment-claim lifecycle: a client files a claim from the public payment
 * page, escalation pauses while the freelancer verifies or rejects it, and a
 * scheduled sweep nudges the freelancer and expires claims whose window
 * lapsed. Every transition out of pending_verification is a conditional
 * update, so double submits and overlapping sweeps settle on one winner.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/domain"
	"github.com/recoup/collections-engine/internal/store"
	"github.com/recoup/collections-engine/pkg/sendgridclient"
)

// ErrInvalidClaim rejects a claim payload before it reaches the store.
var ErrInvalidClaim = errors.New("invalid payment claim")

// Resume reasons recorded on the timeline when a pause is lifted.
const (
	ResumeReasonPaymentVerified    = "payment_verified"
	ResumeReasonClaimRejected      = "claim_rejected"
	ResumeReasonDeadlineExpired    = "deadline_expired"
	ResumeReasonAutoDeadlinePassed = "auto_resume_deadline_passed"
	ResumeReasonManual             = "manual_resume"
)

// FilePaymentClaim records a client's assertion that an invoice has been
// paid. Unauthenticated: the invoice id from the payment link is the only
// credential, so the response carries no freelancer data beyond the claim.
func (s *Service) FilePaymentClaim(ctx context.Context, invoiceID uuid.UUID, req domain.FilePaymentClaimRequest) (*domain.PaymentClaim, error) {
	if req.AmountPence <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidClaim)
	}
	if !domain.ValidPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidClaim, req.PaymentMethod)
	}

	inv, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case domain.InvoiceStatusSent, domain.InvoiceStatusOverdue, domain.InvoiceStatusInCollections, domain.InvoiceStatusDisputed:
	default:
		return nil, ErrInvoiceNotCollectable
	}

	now := s.now().UTC()
	deadline := now.Add(time.Duration(s.config.VerificationWindowHours) * time.Hour)
	claim := domain.PaymentClaim{
		ID:                   uuid.New(),
		InvoiceID:            inv.ID,
		FreelancerID:         inv.FreelancerID,
		AmountPence:          req.AmountPence,
		PaymentMethod:        req.PaymentMethod,
		Reference:            req.Reference,
		EvidenceNote:         req.EvidenceNote,
		PaidAt:               req.PaidAt,
		Status:               domain.ClaimStatusPendingVerification,
		VerificationDeadline: deadline,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.CreatePaymentClaim(ctx, claim); err != nil {
		return nil, err
	}
	s.logger.Info("payment claim filed", "claim_id", claim.ID, "invoice_id", inv.ID, "amount_pence", claim.AmountPence, "deadline", deadline)

	claimStatus := domain.ClaimStatusPendingVerification
	if err := s.repo.SetInvoicePaymentClaim(ctx, inv.ID, &claim.ID, &claimStatus); err != nil {
		s.logger.Error("failed to mirror claim onto invoice", "invoice_id", inv.ID, "claim_id", claim.ID, "error", err)
	}

	autoCfg, err := s.repo.GetAutomationConfig(ctx, inv.FreelancerID)
	if err != nil {
		s.logger.Warn("failed to load automation config, pausing for claim anyway", "invoice_id", inv.ID, "error", err)
	}
	if autoCfg == nil || autoCfg.PauseOnPaymentClaim {
		if _, err := s.pauseEscalation(ctx, inv, domain.PauseReasonPaymentClaim, &deadline); err != nil {
			s.logger.Error("failed to pause escalation for payment claim", "invoice_id", inv.ID, "error", err)
		}
	}

	s.notifyFreelancerOfClaim(ctx, &claim, inv,
		fmt.Sprintf("Payment claimed on invoice %s", inv.Reference),
		fmt.Sprintf("%s says they have paid invoice %s (%s via %s).\n\nPlease verify or reject this claim in your Recoup dashboard before %s. If you do nothing, the claim expires and collections resume automatically.",
			inv.ClientName, inv.Reference, FormatPence(claim.AmountPence), claim.PaymentMethod, deadline.Format(time.RFC1123)),
	)

	s.analytics.Emit(ctx, EventCollectionsClaimFiled, map[string]interface{}{
		"invoice_id":     inv.ID.String(),
		"freelancer_id":  inv.FreelancerID.String(),
		"claim_id":       claim.ID.String(),
		"amount_pence":   claim.AmountPence,
		"payment_method": claim.PaymentMethod,
	})
	return &claim, nil
}

// VerifyPaymentClaim confirms a claim, marks the invoice paid, and lifts the
// claim pause. A claim that already left pending_verification returns
// ErrClaimFinalized.
func (s *Service) VerifyPaymentClaim(ctx context.Context, freelancerID, claimID uuid.UUID) (*domain.PaymentClaim, error) {
	claim, err := s.claimForFreelancer(ctx, freelancerID, claimID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ok, err := s.repo.MarkPaymentClaimVerified(ctx, claimID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment claim: %w", err)
	}
	if !ok {
		return nil, ErrClaimFinalized
	}

	paidAt := now
	if claim.PaidAt != nil {
		paidAt = *claim.PaidAt
	}
	if err := s.repo.MarkInvoicePaid(ctx, claim.InvoiceID, paidAt); err != nil {
		return nil, fmt.Errorf("claim %s verified but invoice not marked paid: %w", claimID, err)
	}

	claimStatus := domain.ClaimStatusVerified
	if err := s.repo.SetInvoicePaymentClaim(ctx, claim.InvoiceID, &claim.ID, &claimStatus); err != nil {
		s.logger.Error("failed to mirror claim onto invoice", "invoice_id", claim.InvoiceID, "claim_id", claimID, "error", err)
	}
	if _, err := s.resumeEscalation(ctx, claim.InvoiceID, ResumeReasonPaymentVerified); err != nil {
		s.logger.Error("failed to lift claim pause after verification", "invoice_id", claim.InvoiceID, "error", err)
	}

	s.analytics.Emit(ctx, EventCollectionsClaimVerified, map[string]interface{}{
		"invoice_id":    claim.InvoiceID.String(),
		"freelancer_id": claim.FreelancerID.String(),
		"claim_id":      claim.ID.String(),
		"amount_pence":  claim.AmountPence,
	})
	s.logger.Info("payment claim verified", "claim_id", claimID, "invoice_id", claim.InvoiceID)

	claim.Status = domain.ClaimStatusVerified
	claim.VerifiedAt = &now
	claim.UpdatedAt = now
	return claim, nil
}

// RejectPaymentClaim dismisses a claim and puts the invoice back into
// collections. The client is told, with the freelancer's reason if given.
func (s *Service) RejectPaymentClaim(ctx context.Context, freelancerID, claimID uuid.UUID, req domain.RejectPaymentClaimRequest) (*domain.PaymentClaim, error) {
	claim, err := s.claimForFreelancer(ctx, freelancerID, claimID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ok, err := s.repo.MarkPaymentClaimRejected(ctx, claimID, req.Reason, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reject payment claim: %w", err)
	}
	if !ok {
		return nil, ErrClaimFinalized
	}

	claimStatus := domain.ClaimStatusRejected
	if err := s.repo.SetInvoicePaymentClaim(ctx, claim.InvoiceID, &claim.ID, &claimStatus); err != nil {
		s.logger.Error("failed to mirror claim onto invoice", "invoice_id", claim.InvoiceID, "claim_id", claimID, "error", err)
	}
	if _, err := s.resumeEscalation(ctx, claim.InvoiceID, ResumeReasonClaimRejected); err != nil {
		s.logger.Error("failed to lift claim pause after rejection", "invoice_id", claim.InvoiceID, "error", err)
	}

	if inv, err := s.repo.FindInvoiceByID(ctx, claim.InvoiceID); err == nil {
		body := fmt.Sprintf("The payment you reported for invoice %s could not be confirmed, so the invoice remains outstanding.", inv.Reference)
		if req.Reason != nil && *req.Reason != "" {
			body += fmt.Sprintf("\n\nReason given: %s", *req.Reason)
		}
		body += fmt.Sprintf("\n\nIf you believe this is a mistake, please reply with proof of payment. You can settle the invoice at %s.", s.paymentLink(inv.ID))
		s.sendOperationalEmail(ctx, inv.ClientEmail, inv.ClientName,
			fmt.Sprintf("Payment claim on invoice %s could not be confirmed", inv.Reference), body)
	} else {
		s.logger.Warn("claim rejected but client notification skipped", "claim_id", claimID, "error", err)
	}

	s.analytics.Emit(ctx, EventCollectionsClaimRejected, map[string]interface{}{
		"invoice_id":    claim.InvoiceID.String(),
		"freelancer_id": claim.FreelancerID.String(),
		"claim_id":      claim.ID.String(),
	})
	s.logger.Info("payment claim rejected", "claim_id", claimID, "invoice_id", claim.InvoiceID)

	claim.Status = domain.ClaimStatusRejected
	claim.RejectedAt = &now
	claim.RejectedReason = req.Reason
	claim.UpdatedAt = now
	return claim, nil
}

// SweepPaymentClaims walks all pending claims once: expired windows are
// auto-rejected and collections resumed, and claims nearing their deadline
// get the freelancer a reminder. Each claim lands in at most one branch per
// sweep; the urgent window is checked before the first so a claim filed late
// in its window only ever gets the urgent nudge.
func (s *Service) SweepPaymentClaims(ctx context.Context) (domain.VerificationSweepSummary, error) {
	summary := domain.VerificationSweepSummary{}
	s.logger.Info("starting verification sweep")

	claims, err := s.repo.ListPendingPaymentClaims(ctx, s.config.EscalationBatchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list pending payment claims: %w", err)
	}

	firstWindow := time.Duration(s.config.ClaimReminderFirstHours) * time.Hour
	urgentWindow := time.Duration(s.config.ClaimReminderUrgentHours) * time.Hour

	for i := range claims {
		claim := &claims[i]
		summary.Scanned++
		now := s.now().UTC()

		switch {
		case !now.Before(claim.VerificationDeadline):
			if err := s.expireClaim(ctx, claim, now); err != nil {
				s.logger.Error("failed to expire payment claim", "claim_id", claim.ID, "error", err)
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", claim.ID, err))
				continue
			}
			summary.Expired++
		case !now.Before(claim.VerificationDeadline.Add(-urgentWindow)):
			sent, err := s.sendClaimReminder(ctx, claim, store.ClaimReminderUrgent, now)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", claim.ID, err))
				continue
			}
			if sent {
				summary.RemindersUrgent++
			}
		case !now.Before(claim.VerificationDeadline.Add(-firstWindow)):
			sent, err := s.sendClaimReminder(ctx, claim, store.ClaimReminderFirst, now)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", claim.ID, err))
				continue
			}
			if sent {
				summary.RemindersFirst++
			}
		}
	}

	s.logger.Info("verification sweep finished",
		"scanned", summary.Scanned,
		"expired", summary.Expired,
		"reminders_first", summary.RemindersFirst,
		"reminders_urgent", summary.RemindersUrgent,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// claimForFreelancer loads a claim and verifies ownership. Mismatches read
// as not found.
func (s *Service) claimForFreelancer(ctx context.Context, freelancerID, claimID uuid.UUID) (*domain.PaymentClaim, error) {
	claim, err := s.repo.FindPaymentClaimByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.FreelancerID != freelancerID {
		return nil, store.ErrClaimNotFound
	}
	return claim, nil
}

// expireClaim auto-rejects one lapsed claim and resumes collections. Returns
// nil without side effects when another sweep already finalized it.
func (s *Service) expireClaim(ctx context.Context, claim *domain.PaymentClaim, now time.Time) error {
	ok, err := s.repo.MarkPaymentClaimExpired(ctx, claim.ID, now)
	if err != nil {
		return fmt.Errorf("failed to mark claim expired: %w", err)
	}
	if !ok {
		return nil
	}

	claimStatus := domain.ClaimStatusExpired
	if err := s.repo.SetInvoicePaymentClaim(ctx, claim.InvoiceID, &claim.ID, &claimStatus); err != nil {
		s.logger.Error("failed to mirror claim onto invoice", "invoice_id", claim.InvoiceID, "claim_id", claim.ID, "error", err)
	}
	if _, err := s.resumeEscalation(ctx, claim.InvoiceID, ResumeReasonDeadlineExpired); err != nil {
		s.logger.Error("failed to resume collections after claim expiry", "invoice_id", claim.InvoiceID, "error", err)
	}

	if inv, err := s.repo.FindInvoiceByID(ctx, claim.InvoiceID); err == nil {
		s.notifyFreelancerOfClaim(ctx, claim, inv,
			fmt.Sprintf("Payment claim on invoice %s expired", inv.Reference),
			fmt.Sprintf("The payment claim %s filed on invoice %s was not verified within the verification window, so it has been auto-rejected and collections have resumed.\n\nIf the payment did arrive, mark the invoice as paid in your Recoup dashboard.",
				inv.ClientName, inv.Reference),
		)
	}

	s.analytics.Emit(ctx, EventCollectionsClaimExpired, map[string]interface{}{
		"invoice_id":    claim.InvoiceID.String(),
		"freelancer_id": claim.FreelancerID.String(),
		"claim_id":      claim.ID.String(),
	})
	s.logger.Info("payment claim expired", "claim_id", claim.ID, "invoice_id", claim.InvoiceID)
	return nil
}

// sendClaimReminder flags then emails one verification reminder. The
// conditional flag update is the duplicate guard; losing it means another
// sweep already sent this window's reminder.
func (s *Service) sendClaimReminder(ctx context.Context, claim *domain.PaymentClaim, window store.ClaimReminderWindow, now time.Time) (bool, error) {
	ok, err := s.repo.MarkClaimReminderSent(ctx, claim.ID, window, now)
	if err != nil {
		return false, fmt.Errorf("failed to flag %s reminder: %w", window, err)
	}
	if !ok {
		return false, nil
	}

	inv, err := s.repo.FindInvoiceByID(ctx, claim.InvoiceID)
	if err != nil {
		return true, fmt.Errorf("reminder flagged but invoice lookup failed: %w", err)
	}

	hoursLeft := int(claim.VerificationDeadline.UTC().Sub(now) / time.Hour)
	subject := fmt.Sprintf("Reminder: verify the payment claim on invoice %s", inv.Reference)
	if window == store.ClaimReminderUrgent {
		subject = fmt.Sprintf("Urgent: payment claim on invoice %s expires soon", inv.Reference)
	}
	s.notifyFreelancerOfClaim(ctx, claim, inv, subject,
		fmt.Sprintf("%s's payment claim on invoice %s (%s) is still waiting for your review. About %d hours remain before it expires and collections resume.\n\nVerify or reject it in your Recoup dashboard.",
			inv.ClientName, inv.Reference, FormatPence(claim.AmountPence), hoursLeft),
	)
	s.logger.Info("claim verification reminder sent", "claim_id", claim.ID, "window", window)
	return true, nil
}

// notifyFreelancerOfClaim emails the invoice owner about a claim event.
// Best effort: a failed or missing email provider never fails the claim
// operation itself.
func (s *Service) notifyFreelancerOfClaim(ctx context.Context, claim *domain.PaymentClaim, inv *domain.Invoice, subject, body string) {
	freelancer, err := s.repo.GetFreelancer(ctx, claim.FreelancerID)
	if err != nil {
		s.logger.Warn("claim notification skipped, freelancer lookup failed", "claim_id", claim.ID, "error", err)
		return
	}
	s.sendOperationalEmail(ctx, freelancer.Email, freelancer.FullName, subject, body)
}

// sendOperationalEmail delivers a service notification, as opposed to a
// collection reminder aimed at a debtor.
func (s *Service) sendOperationalEmail(ctx context.Context, toEmail, toName, subject, body string) {
	if s.senders.Email == nil {
		s.logger.Debug("email provider not configured, dropping notification", "subject", subject)
		return
	}
	_, err := s.senders.Email.Send(ctx, sendgridclient.Email{
		FromEmail: s.config.CollectionsFromEmail,
		FromName:  s.config.CollectionsFromName,
		ToEmail:   toEmail,
		ToName:    toName,
		Subject:   subject,
		TextBody:  body,
	})
	if err != nil {
		s.logger.Warn("failed to send notification email", "to", toEmail, "subject", subject, "error", err)
	}
}
