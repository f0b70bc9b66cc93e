/**
 * @description
 * The scheduled escalation run. Scans a bounded batch of overdue invoices
 * with collections enabled, moves each to the level its age demands, and
 * dispatches that level's reminders. Runs are safe to fire twice: level
 * advances are conditional updates, dispatch is guarded by the attempt log
 * and the Redis day bucket, and timeline ids are deterministic.
 *
 * A failure on one invoice is recorded in the summary and the run moves on;
 * only a failed candidate query aborts a run.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/recoup/collections-engine/internal/domain"
)

// ProcessEscalations performs one escalation run and reports what happened.
func (s *Service) ProcessEscalations(ctx context.Context) (domain.EscalationRunSummary, error) {
	summary := domain.EscalationRunSummary{}
	started := s.now().UTC()
	s.logger.Info("starting escalation run", "batch_size", s.config.EscalationBatchSize)

	invoices, err := s.repo.ListCollectionsCandidates(ctx, s.config.EscalationBatchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list collections candidates: %w", err)
	}

	for i := range invoices {
		inv := &invoices[i]
		summary.Scanned++

		attempted, outcome, err := s.processInvoice(ctx, inv)
		if err != nil {
			s.logger.Error("invoice escalation failed", "invoice_id", inv.ID, "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", inv.ID, err))
			continue
		}
		switch outcome {
		case outcomeEscalated:
			summary.Escalated++
		case outcomePaused:
			summary.Paused++
		default:
			summary.Skipped++
		}

		// Self-throttle between invoices that actually contacted a client,
		// so a large backlog doesn't burst through the providers.
		if attempted > 0 && s.config.DispatchThrottleMS > 0 {
			select {
			case <-ctx.Done():
				summary.Errors = append(summary.Errors, fmt.Sprintf("run cancelled: %v", ctx.Err()))
				s.logger.Warn("escalation run cancelled", "scanned", summary.Scanned)
				return summary, nil
			case <-time.After(time.Duration(s.config.DispatchThrottleMS) * time.Millisecond):
			}
		}
	}

	s.logger.Info("escalation run finished",
		"scanned", summary.Scanned,
		"escalated", summary.Escalated,
		"paused", summary.Paused,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
		"duration_ms", s.now().UTC().Sub(started).Milliseconds(),
	)
	return summary, nil
}

const (
	outcomeEscalated = "escalated"
	outcomePaused    = "paused"
	outcomeSkipped   = "skipped"
)

// processInvoice decides and applies one invoice's escalation. Returns how
// many sends were attempted and which summary bucket the invoice landed in.
func (s *Service) processInvoice(ctx context.Context, inv *domain.Invoice) (int, string, error) {
	now := s.now().UTC()
	days := inv.DaysOverdue(now)
	if days < 0 {
		// Shouldn't be in the scan; a stale status is not this run's problem.
		return 0, outcomeSkipped, nil
	}

	state, created, err := s.repo.GetOrCreateEscalationState(ctx, inv.ID, s.policy.LevelFor(days))
	if err != nil {
		return 0, outcomeSkipped, fmt.Errorf("failed to load escalation state: %w", err)
	}

	if state.IsPaused {
		if !state.PauseDeadlinePassed(now) {
			return 0, outcomePaused, nil
		}
		// The verification window lapsed with the pause still in place;
		// lift it and continue this same pass.
		resumed, err := s.resumeEscalation(ctx, inv.ID, ResumeReasonAutoDeadlinePassed)
		if err != nil {
			return 0, outcomePaused, err
		}
		if !resumed {
			// Another run got there first and may still be mid-flight.
			return 0, outcomePaused, nil
		}
		state.IsPaused = false
	}

	autoCfg, err := s.repo.GetAutomationConfig(ctx, inv.FreelancerID)
	if err != nil {
		return 0, outcomeSkipped, fmt.Errorf("failed to load automation config: %w", err)
	}
	if !autoCfg.Enabled {
		return 0, outcomeSkipped, nil
	}

	fromLevel := state.CurrentLevel
	transitioned := false
	switch {
	case created && state.CurrentLevel.After(domain.LevelPending):
		// A brand-new state seeded above pending is this run's transition:
		// the invoice was never escalated before, so the jump from pending
		// happens now, events and reminders included.
		fromLevel = domain.LevelPending
		transitioned = true
	case s.policy.ShouldEscalate(state.CurrentLevel, days):
		target := s.policy.LevelFor(days)
		advanced, err := s.repo.AdvanceEscalationLevel(ctx, inv.ID, state.CurrentLevel, target, now)
		if err != nil {
			return 0, outcomeSkipped, fmt.Errorf("failed to advance escalation level: %w", err)
		}
		if !advanced {
			// Lost the conditional update to a concurrent run.
			return 0, outcomeSkipped, nil
		}
		state.CurrentLevel = target
		transitioned = true
	}

	if transitioned {
		if err := s.repo.RecordInvoiceEscalation(ctx, inv.ID); err != nil {
			s.logger.Error("failed to record invoice escalation", "invoice_id", inv.ID, "error", err)
		}
		if err := s.appendTimeline(ctx, inv.ID, state.CurrentLevel, domain.EventEscalated, "",
			fmt.Sprintf("Escalated from %s to %s (%d days overdue)", fromLevel, state.CurrentLevel, days),
			map[string]any{"from": string(fromLevel), "to": string(state.CurrentLevel), "days_overdue": days},
		); err != nil {
			// The audit event is lost but the actions still matter more.
			s.logger.Warn("escalated without timeline event", "invoice_id", inv.ID)
		}
		s.analytics.Emit(ctx, EventCollectionsEscalated, map[string]interface{}{
			"invoice_id":    inv.ID.String(),
			"freelancer_id": inv.FreelancerID.String(),
			"from":          string(fromLevel),
			"to":            string(state.CurrentLevel),
			"days_overdue":  days,
		})
		s.logger.Info("invoice escalated", "invoice_id", inv.ID, "from", fromLevel, "to", state.CurrentLevel, "days_overdue", days)

		attempted := s.dispatchReminders(ctx, inv, state.CurrentLevel, days)
		return attempted, outcomeEscalated, nil
	}

	// No transition due. If a previous run crashed between advancing the
	// level and dispatching, the attempt log is empty for the current level;
	// finish that delivery now.
	if state.CurrentLevel != domain.LevelPending {
		attempted := s.dispatchReminders(ctx, inv, state.CurrentLevel, days)
		if attempted > 0 {
			s.logger.Info("completed missed dispatch", "invoice_id", inv.ID, "level", state.CurrentLevel)
			return attempted, outcomeEscalated, nil
		}
	}
	return 0, outcomeSkipped, nil
}
