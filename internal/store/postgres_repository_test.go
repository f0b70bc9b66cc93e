package store

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/domain"
)

// fakeRow feeds canned column values into the scan helpers. A nil value
// leaves the destination at its zero value, which is how NULL columns land.
type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.values) || r.values[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

func TestScanEscalationState_MapsRow(t *testing.T) {
	invoiceID := uuid.New()
	reason := "payment_claim"
	pausedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pauseUntil := pausedAt.Add(48 * time.Hour)
	escalatedAt := time.Date(2026, 2, 20, 8, 0, 0, 0, time.UTC)
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	state, err := scanEscalationState(&fakeRow{values: []any{
		invoiceID, "firm", true, &reason, &pausedAt, &pauseUntil, &escalatedAt, created, created,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.InvoiceID != invoiceID {
		t.Fatalf("expected invoice %s, got %s", invoiceID, state.InvoiceID)
	}
	if state.CurrentLevel != domain.LevelFirm {
		t.Fatalf("expected firm, got %s", state.CurrentLevel)
	}
	if !state.IsPaused {
		t.Fatal("expected the paused flag to carry through")
	}
	if state.PauseReason == nil || *state.PauseReason != domain.PauseReasonPaymentClaim {
		t.Fatalf("expected a typed pause reason, got %v", state.PauseReason)
	}
	if state.PauseUntil == nil || !state.PauseUntil.Equal(pauseUntil) {
		t.Fatalf("expected pause_until %s, got %v", pauseUntil, state.PauseUntil)
	}
}

func TestScanEscalationState_RejectsUnknownLevel(t *testing.T) {
	tests := []struct {
		name     string
		rawLevel string
	}{
		{name: "unknown level", rawLevel: "litigated"},
		{name: "empty level", rawLevel: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scanEscalationState(&fakeRow{values: []any{
				uuid.New(), tt.rawLevel, false, nil, nil, nil, nil, time.Time{}, time.Time{},
			}})
			if err == nil {
				t.Fatal("expected an error for a bad level column, got nil")
			}
			if !strings.Contains(err.Error(), "invalid escalation state row") {
				t.Fatalf("expected the invalid-row error, got %v", err)
			}
		})
	}
}

func TestScanEscalationState_PropagatesScanError(t *testing.T) {
	scanErr := errors.New("conn reset")
	_, err := scanEscalationState(&fakeRow{err: scanErr})
	if !errors.Is(err, scanErr) {
		t.Fatalf("expected the scan error back, got %v", err)
	}
}

func TestMarkClaimReminderSent_RejectsUnknownWindow(t *testing.T) {
	repo := &PostgresRepository{}
	ok, err := repo.MarkClaimReminderSent(context.Background(), uuid.New(), ClaimReminderWindow("weekly"), time.Now())
	if ok {
		t.Fatal("expected ok=false for an unknown window")
	}
	if err == nil || !strings.Contains(err.Error(), "unknown claim reminder window") {
		t.Fatalf("expected the unknown-window error, got %v", err)
	}
}
