/**
 * @description
 * Freelancer-side models: the account record with its subscription tier, the
 * per-freelancer collections automation settings, and the per-client contact
 * consent record consulted before every send.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers gate which collection channels a freelancer may use.
const (
	TierStarter = "starter"
	TierGrowth  = "growth"
	TierPro     = "pro"
)

// Freelancer is the slice of the user record the collections engine needs.
type Freelancer struct {
	ID               uuid.UUID `json:"id"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name"`
	BusinessName     *string   `json:"business_name,omitempty"`
	SubscriptionTier string    `json:"subscription_tier"` // e.g. 'starter', 'growth', 'pro'
}

// DisplayName prefers the trading name on client-facing content.
func (f *Freelancer) DisplayName() string {
	if f.BusinessName != nil && *f.BusinessName != "" {
		return *f.BusinessName
	}
	return f.FullName
}

// AutomationConfig holds a freelancer's collections automation settings.
// Read-only to the engine.
type AutomationConfig struct {
	FreelancerID        uuid.UUID `json:"freelancer_id"`
	Enabled             bool      `json:"enabled"`
	EmailEnabled        bool      `json:"email_enabled"`
	SMSEnabled          bool      `json:"sms_enabled"`
	LetterEnabled       bool      `json:"letter_enabled"`
	VoiceEnabled        bool      `json:"voice_enabled"`
	PauseOnPaymentClaim bool      `json:"pause_on_payment_claim"`
	PauseOnDispute      bool      `json:"pause_on_dispute"`
}

// ChannelEnabled maps a channel onto the matching settings toggle.
func (c *AutomationConfig) ChannelEnabled(channel Channel) bool {
	switch channel {
	case ChannelEmail:
		return c.EmailEnabled
	case ChannelSMS:
		return c.SMSEnabled
	case ChannelLetter:
		return c.LetterEnabled
	case ChannelVoice:
		return c.VoiceEnabled
	}
	return false
}

// DefaultAutomationConfig is used when a freelancer has never touched their
// collections settings: automation on, every channel on, both pauses on.
func DefaultAutomationConfig(freelancerID uuid.UUID) AutomationConfig {
	return AutomationConfig{
		FreelancerID:        freelancerID,
		Enabled:             true,
		EmailEnabled:        true,
		SMSEnabled:          true,
		LetterEnabled:       true,
		VoiceEnabled:        true,
		PauseOnPaymentClaim: true,
		PauseOnDispute:      true,
	}
}

// CollectionsConsent records what contact the client has agreed to, plus any
// later opt-outs. Email to a business contact rides on legitimate interest,
// so it has an opt-out flag but no consent flag.
type CollectionsConsent struct {
	ClientID          uuid.UUID  `json:"client_id"`
	SMSConsent        bool       `json:"sms_consent"`
	VoiceConsent      bool       `json:"voice_consent"`
	LetterConsent     bool       `json:"letter_consent"`
	ConsentRecordedAt *time.Time `json:"consent_recorded_at,omitempty"`
	EmailOptOut       bool       `json:"email_opt_out"`
	SMSOptOut         bool       `json:"sms_opt_out"`
	VoiceOptOut       bool       `json:"voice_opt_out"`
	LetterOptOut      bool       `json:"letter_opt_out"`
	OptOutRecordedAt  *time.Time `json:"opt_out_recorded_at,omitempty"`
}

// Allows evaluates the consent record for one channel.
func (c *CollectionsConsent) Allows(channel Channel) bool {
	switch channel {
	case ChannelEmail:
		return !c.EmailOptOut
	case ChannelSMS:
		return c.SMSConsent && !c.SMSOptOut
	case ChannelVoice:
		return c.VoiceConsent && !c.VoiceOptOut
	case ChannelLetter:
		return c.LetterConsent && !c.LetterOptOut
	}
	return false
}
