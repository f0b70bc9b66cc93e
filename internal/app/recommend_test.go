package app

import (
	"testing"
	"time"
)

func TestCourtFeePence(t *testing.T) {
	tests := []struct {
		name            string
		claimValuePence int64
		want            int64
	}{
		{name: "three hundred pounds", claimValuePence: 30000, want: 3500},
		{name: "five hundred pounds", claimValuePence: 50000, want: 5000},
		{name: "one thousand pounds", claimValuePence: 100000, want: 7000},
		{name: "fifteen hundred pounds", claimValuePence: 150000, want: 8000},
		{name: "three thousand pounds", claimValuePence: 300000, want: 11500},
		{name: "five thousand pounds", claimValuePence: 500000, want: 20500},
		{name: "ten thousand pounds", claimValuePence: 1000000, want: 45500},
		// Above £10,000 the fee is 5% of the claim.
		{name: "twenty thousand pounds", claimValuePence: 2000000, want: 100000},
		// 5% of £500,000 is £25,000, above the £10,000 cap.
		{name: "half a million pounds hits the cap", claimValuePence: 50000000, want: 1000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CourtFeePence(tt.claimValuePence); got != tt.want {
				t.Fatalf("expected fee %d on claim %d, got %d", tt.want, tt.claimValuePence, got)
			}
		})
	}
}

func TestAgencyCommissionRatePercent(t *testing.T) {
	tests := []struct {
		name        string
		daysOverdue int
		want        float64
	}{
		{name: "young debt", daysOverdue: 30, want: 15.0},
		{name: "ninety days exactly keeps base rate", daysOverdue: 90, want: 15.0},
		{name: "past ninety days", daysOverdue: 91, want: 20.0},
		{name: "past one eighty days", daysOverdue: 181, want: 25.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AgencyCommissionRatePercent(tt.daysOverdue); got != tt.want {
				t.Fatalf("expected rate %.1f at %d days, got %.1f", tt.want, tt.daysOverdue, got)
			}
		})
	}
}

func TestRecommend(t *testing.T) {
	policy := defaultPolicy()
	calc := testCalculator()
	at := time.Date(2026, time.April, 2, 8, 0, 0, 0, time.UTC)

	t.Run("young debt keeps reminders running", func(t *testing.T) {
		breakdown := calc.Accrue(100000, 10, at)
		rec := Recommend(policy, breakdown, 10, at)
		if rec.Action != RecommendContinueReminders {
			t.Fatalf("expected %s, got %s", RecommendContinueReminders, rec.Action)
		}
	})

	t.Run("final stage debt gets letter before action", func(t *testing.T) {
		breakdown := calc.Accrue(100000, 35, at)
		rec := Recommend(policy, breakdown, 35, at)
		if rec.Action != RecommendSendLBA {
			t.Fatalf("expected %s, got %s", RecommendSendLBA, rec.Action)
		}
	})

	t.Run("aged small debt prefers court over agency", func(t *testing.T) {
		// £1,000 principal, 70 days overdue. Court fee £70 beats a 15%
		// commission of roughly £160.
		breakdown := calc.Accrue(100000, 70, at)
		rec := Recommend(policy, breakdown, 70, at)
		if rec.Action != RecommendCourtClaim {
			t.Fatalf("expected %s, got %s", RecommendCourtClaim, rec.Action)
		}
		if rec.CourtNetPence <= rec.AgencyNetPence {
			t.Fatalf("expected court to net more, got court=%d agency=%d", rec.CourtNetPence, rec.AgencyNetPence)
		}
	})

	t.Run("net recovery sums are consistent", func(t *testing.T) {
		breakdown := calc.Accrue(2500000, 100, at)
		rec := Recommend(policy, breakdown, 100, at)
		if rec.CourtNetPence != rec.ClaimValuePence-rec.CourtFeePence {
			t.Fatalf("court net %d does not match claim %d minus fee %d", rec.CourtNetPence, rec.ClaimValuePence, rec.CourtFeePence)
		}
		if rec.AgencyNetPence != rec.ClaimValuePence-rec.AgencyCommissionPence {
			t.Fatalf("agency net %d does not match claim %d minus commission %d", rec.AgencyNetPence, rec.ClaimValuePence, rec.AgencyCommissionPence)
		}
		if rec.CommissionRatePercent != 20.0 {
			t.Fatalf("expected 20%% commission at 100 days, got %.1f", rec.CommissionRatePercent)
		}
	})
}
