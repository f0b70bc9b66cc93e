/**
 * @description
 * Late payment interest arithmetic under the Late Payment of Commercial
 * Debts (Interest) Act 1998: statutory interest at 8% over the Bank of
 * England base rate, plus the fixed recovery compensation owed on top of
 * the debt. All money is held in pence to keep the sums exact.
 */
package app

import (
	"math"
	"time"

	"github.com/recoup/collections-engine/internal/config"
)

// Fixed recovery compensation bands from the Act, in pence.
const (
	compensationSmallPence  int64 = 4000  // debts up to £999.99
	compensationMediumPence int64 = 7000  // debts up to £9,999.99
	compensationLargePence  int64 = 10000 // debts of £10,000 and over
)

// InterestCalculator computes statutory interest on overdue invoices.
type InterestCalculator struct {
	statutoryRate float64
	baseRate      float64
}

// NewInterestCalculator builds a calculator from the configured rates.
func NewInterestCalculator(cfg config.Config) InterestCalculator {
	return InterestCalculator{
		statutoryRate: cfg.StatutoryInterestRate,
		baseRate:      cfg.BOEBaseRate,
	}
}

// InterestBreakdown is the full statutory entitlement for one invoice.
type InterestBreakdown struct {
	PrincipalPence    int64     `json:"principal_pence"`
	AnnualRatePercent float64   `json:"annual_rate_percent"`
	DailyPence        int64     `json:"daily_pence"`
	DaysOverdue       int       `json:"days_overdue"`
	AccruedPence      int64     `json:"accrued_pence"`
	CompensationPence int64     `json:"compensation_pence"`
	TotalDuePence     int64     `json:"total_due_pence"`
	CalculatedAt      time.Time `json:"calculated_at"`
}

// AnnualRatePercent returns the combined statutory rate.
func (c InterestCalculator) AnnualRatePercent() float64 {
	return c.statutoryRate + c.baseRate
}

// DailyInterestPence returns the interest one day adds, rounded to the
// nearest penny.
func (c InterestCalculator) DailyInterestPence(principalPence int64) int64 {
	return int64(math.Round(float64(principalPence) * c.AnnualRatePercent() / 100 / 365))
}

// CompensationPence returns the fixed recovery compensation band for a debt.
func CompensationPence(principalPence int64) int64 {
	switch {
	case principalPence <= 99999:
		return compensationSmallPence
	case principalPence <= 999999:
		return compensationMediumPence
	default:
		return compensationLargePence
	}
}

// Accrue computes the entitlement for an invoice overdue the given number of
// days. Accrued interest never goes negative; an invoice not yet due accrues
// nothing but still shows its compensation band.
func (c InterestCalculator) Accrue(principalPence int64, daysOverdue int, at time.Time) InterestBreakdown {
	daily := c.DailyInterestPence(principalPence)
	days := daysOverdue
	if days < 0 {
		days = 0
	}
	accrued := daily * int64(days)
	compensation := CompensationPence(principalPence)

	return InterestBreakdown{
		PrincipalPence:    principalPence,
		AnnualRatePercent: c.AnnualRatePercent(),
		DailyPence:        daily,
		DaysOverdue:       daysOverdue,
		AccruedPence:      accrued,
		CompensationPence: compensation,
		TotalDuePence:     principalPence + accrued + compensation,
		CalculatedAt:      at,
	}
}
