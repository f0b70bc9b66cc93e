/**
 * @description
 * Cron scheduler for the recurring collections runs: the escalation scan and
 * the payment-claim verification sweep. The same runs are also exposed over
 * the internal cron HTTP endpoints, so deployments can choose between the
 * in-process scheduler and an external trigger.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/recoup/collections-engine/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
	config  config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:    c,
		service: service,
		logger:  logger,
		config:  cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.EscalationCron, s.runEscalations); err != nil {
		s.logger.Error("failed to schedule escalation run", "error", err)
	} else {
		s.logger.Info("scheduled escalation run", "schedule", s.config.EscalationCron)
	}

	if _, err := s.cron.AddFunc(s.config.VerificationCron, s.runVerificationSweep); err != nil {
		s.logger.Error("failed to schedule verification sweep", "error", err)
	} else {
		s.logger.Info("scheduled verification sweep", "schedule", s.config.VerificationCron)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runEscalations() {
	if _, err := s.service.ProcessEscalations(context.Background()); err != nil {
		s.logger.Error("escalation run failed", "error", err)
	}
}

func (s *Scheduler) runVerificationSweep() {
	if _, err := s.service.SweepPaymentClaims(context.Background()); err != nil {
		s.logger.Error("verification sweep failed", "error", err)
	}
}
