/**
 * @description
 * Escalation recommendation engine. Given how old and how large a debt is,
 * it prices the two formal recovery routes (County Court money claim,
 * partner agency referral) and recommends the next move alongside the
 * estimated net recovery of each path.
 */
package app

import (
	"math"
	"time"

	"github.com/recoup/collections-engine/internal/domain"
)

const (
	RecommendContinueReminders = "continue_reminders"
	RecommendSendLBA           = "send_lba"
	RecommendCourtClaim        = "court_claim"
	RecommendAgencyReferral    = "agency_referral"
)

// courtFeeBand maps a claim-value ceiling (in pence) to the court issue fee.
type courtFeeBand struct {
	upToPence int64
	feePence  int64
}

// HMCTS money claim issue fees for paper claims.
var courtFeeBands = []courtFeeBand{
	{upToPence: 30000, feePence: 3500},
	{upToPence: 50000, feePence: 5000},
	{upToPence: 100000, feePence: 7000},
	{upToPence: 150000, feePence: 8000},
	{upToPence: 300000, feePence: 11500},
	{upToPence: 500000, feePence: 20500},
	{upToPence: 1000000, feePence: 45500},
}

const courtFeeCapPence int64 = 1000000

// CourtFeePence returns the issue fee for a claim of the given value. Claims
// above £10,000 pay 5% of the claim, capped at £10,000.
func CourtFeePence(claimValuePence int64) int64 {
	for _, band := range courtFeeBands {
		if claimValuePence <= band.upToPence {
			return band.feePence
		}
	}
	fee := int64(math.Round(float64(claimValuePence) * 0.05))
	if fee > courtFeeCapPence {
		fee = courtFeeCapPence
	}
	return fee
}

// AgencyCommissionRatePercent returns the partner agency's commission rate,
// which steps up as the debt ages.
func AgencyCommissionRatePercent(daysOverdue int) float64 {
	switch {
	case daysOverdue > 180:
		return 25.0
	case daysOverdue > 90:
		return 20.0
	default:
		return 15.0
	}
}

// Recommendation is the engine's costed advice for one invoice.
type Recommendation struct {
	Action                string    `json:"action"`
	DaysOverdue           int       `json:"days_overdue"`
	ClaimValuePence       int64     `json:"claim_value_pence"`
	CourtFeePence         int64     `json:"court_fee_pence"`
	CourtNetPence         int64     `json:"court_net_pence"`
	CommissionRatePercent float64   `json:"commission_rate_percent"`
	AgencyCommissionPence int64     `json:"agency_commission_pence"`
	AgencyNetPence        int64     `json:"agency_net_pence"`
	Rationale             string    `json:"rationale"`
	CalculatedAt          time.Time `json:"calculated_at"`
}

// Recommend prices the recovery routes for an invoice and picks the next
// action. The claim value is the full statutory entitlement: principal plus
// accrued interest plus fixed compensation.
func Recommend(policy LevelPolicy, breakdown InterestBreakdown, daysOverdue int, at time.Time) Recommendation {
	claimValue := breakdown.TotalDuePence
	courtFee := CourtFeePence(claimValue)
	courtNet := claimValue - courtFee

	rate := AgencyCommissionRatePercent(daysOverdue)
	commission := int64(math.Round(float64(claimValue) * rate / 100))
	agencyNet := claimValue - commission

	rec := Recommendation{
		DaysOverdue:           daysOverdue,
		ClaimValuePence:       claimValue,
		CourtFeePence:         courtFee,
		CourtNetPence:         courtNet,
		CommissionRatePercent: rate,
		AgencyCommissionPence: commission,
		AgencyNetPence:        agencyNet,
		CalculatedAt:          at,
	}

	level := policy.LevelFor(daysOverdue)
	switch {
	case level.After(domain.LevelFinal):
		// Past the agency threshold the reminders have run their course;
		// pick whichever formal route keeps more of the debt.
		if courtNet >= agencyNet {
			rec.Action = RecommendCourtClaim
			rec.Rationale = "a money claim retains more of the debt than the agency's commission at this age"
		} else {
			rec.Action = RecommendAgencyReferral
			rec.Rationale = "the agency route nets more than a money claim after the issue fee"
		}
	case level == domain.LevelFinal:
		rec.Action = RecommendSendLBA
		rec.Rationale = "a letter before action is required before issuing a money claim"
	default:
		rec.Action = RecommendContinueReminders
		rec.Rationale = "the debt is young enough that reminders usually resolve it without formal costs"
	}

	return rec
}
