/**
 * @description
 * Escalation level policy. Maps an invoice's age past due to the pressure
 * level the engine should be applying, and decides which contact channels
 * each level uses by default.
 *
 * The mapping is a pure step function over config-driven thresholds, so the
 * same invoice always resolves to the same level for a given clock reading.
 */
package app

import (
	"github.com/recoup/collections-engine/internal/config"
	"github.com/recoup/collections-engine/internal/domain"
)

// LevelPolicy resolves days-overdue to an escalation level.
type LevelPolicy struct {
	gentleAfterDays int
	firmAfterDays   int
	finalAfterDays  int
	agencyAfterDays int
}

// NewLevelPolicy builds a policy from the configured thresholds. LoadConfig
// guarantees the thresholds are strictly ascending.
func NewLevelPolicy(cfg config.Config) LevelPolicy {
	return LevelPolicy{
		gentleAfterDays: cfg.GentleAfterDays,
		firmAfterDays:   cfg.FirmAfterDays,
		finalAfterDays:  cfg.FinalAfterDays,
		agencyAfterDays: cfg.AgencyAfterDays,
	}
}

// LevelFor returns the level an invoice this many days overdue belongs at.
// Negative values (not yet due) resolve to pending.
func (p LevelPolicy) LevelFor(daysOverdue int) domain.EscalationLevel {
	switch {
	case daysOverdue < p.gentleAfterDays:
		return domain.LevelPending
	case daysOverdue < p.firmAfterDays:
		return domain.LevelGentle
	case daysOverdue < p.finalAfterDays:
		return domain.LevelFirm
	case daysOverdue < p.agencyAfterDays:
		return domain.LevelFinal
	default:
		return domain.LevelAgency
	}
}

// ShouldEscalate reports whether an invoice at the given level and age is due
// a transition. Only strictly higher targets qualify; the policy never asks
// for a downgrade, so an invoice manually pushed ahead of schedule stays put.
func (p LevelPolicy) ShouldEscalate(current domain.EscalationLevel, daysOverdue int) bool {
	return p.LevelFor(daysOverdue).After(current)
}

// ChannelsForLevel returns the default contact channels for a level, before
// the freelancer's settings, client consent, and tier gates are applied.
// Voice joins at the final demand stage only.
func ChannelsForLevel(level domain.EscalationLevel) []domain.Channel {
	switch level {
	case domain.LevelGentle:
		return []domain.Channel{domain.ChannelEmail}
	case domain.LevelFirm:
		return []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}
	case domain.LevelFinal:
		return []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelLetter, domain.ChannelVoice}
	case domain.LevelAgency:
		return []domain.Channel{domain.ChannelEmail, domain.ChannelLetter}
	default:
		return nil
	}
}
