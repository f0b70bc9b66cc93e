package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/app"
	"github.com/recoup/collections-engine/internal/config"
	"github.com/recoup/collections-engine/internal/domain"
	"github.com/recoup/collections-engine/internal/store"
)

type apiRepoStub struct {
	store.Repository

	invoice    *domain.Invoice
	freelancer *domain.Freelancer
	claim      *domain.PaymentClaim
	state      *domain.EscalationState
	createErr  error

	createdClaim *domain.PaymentClaim
	events       []domain.TimelineEvent
}

func (s *apiRepoStub) ListCollectionsCandidates(ctx context.Context, limit int) ([]domain.Invoice, error) {
	return nil, nil
}

func (s *apiRepoStub) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	if s.invoice == nil {
		return nil, store.ErrInvoiceNotFound
	}
	return s.invoice, nil
}

func (s *apiRepoStub) GetFreelancer(ctx context.Context, freelancerID uuid.UUID) (*domain.Freelancer, error) {
	if s.freelancer == nil {
		return nil, store.ErrFreelancerNotFound
	}
	return s.freelancer, nil
}

func (s *apiRepoStub) GetAutomationConfig(ctx context.Context, freelancerID uuid.UUID) (*domain.AutomationConfig, error) {
	cfg := domain.DefaultAutomationConfig(freelancerID)
	return &cfg, nil
}

func (s *apiRepoStub) GetCollectionsConsent(ctx context.Context, clientID uuid.UUID) (*domain.CollectionsConsent, error) {
	return nil, store.ErrConsentNotFound
}

func (s *apiRepoStub) GetOrCreateEscalationState(ctx context.Context, invoiceID uuid.UUID, seedLevel domain.EscalationLevel) (*domain.EscalationState, bool, error) {
	if s.state == nil {
		s.state = &domain.EscalationState{InvoiceID: invoiceID, CurrentLevel: seedLevel}
		return s.state, true, nil
	}
	return s.state, false, nil
}

func (s *apiRepoStub) SetEscalationPaused(ctx context.Context, invoiceID uuid.UUID, reason domain.PauseReason, pausedAt time.Time, pauseUntil *time.Time) (bool, error) {
	return true, nil
}

func (s *apiRepoStub) ClearEscalationPause(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	return true, nil
}

func (s *apiRepoStub) AppendTimelineEvent(ctx context.Context, event domain.TimelineEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *apiRepoStub) ListTimelineEvents(ctx context.Context, invoiceID uuid.UUID, limit int) ([]domain.TimelineEvent, error) {
	return s.events, nil
}

func (s *apiRepoStub) CreatePaymentClaim(ctx context.Context, claim domain.PaymentClaim) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.createdClaim = &claim
	return nil
}

func (s *apiRepoStub) SetInvoicePaymentClaim(ctx context.Context, invoiceID uuid.UUID, claimID *uuid.UUID, claimStatus *string) error {
	return nil
}

func (s *apiRepoStub) FindPaymentClaimByID(ctx context.Context, claimID uuid.UUID) (*domain.PaymentClaim, error) {
	if s.claim == nil {
		return nil, store.ErrClaimNotFound
	}
	return s.claim, nil
}

func (s *apiRepoStub) MarkPaymentClaimVerified(ctx context.Context, claimID uuid.UUID, verifiedAt time.Time) (bool, error) {
	return s.claim != nil && s.claim.Status == domain.ClaimStatusPendingVerification, nil
}

func (s *apiRepoStub) MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, paidAt time.Time) error {
	return nil
}

type allowGuard struct{}

func (allowGuard) AllowDailyAction(ctx context.Context, invoiceID uuid.UUID, day time.Time) (bool, error) {
	return true, nil
}

func (allowGuard) ConsumeTierBudget(ctx context.Context, freelancerID uuid.UUID, tier string) (bool, int, error) {
	return true, 100, nil
}

func apiTestConfig() config.Config {
	return config.Config{
		EscalationBatchSize:      50,
		GentleAfterDays:          5,
		FirmAfterDays:            15,
		FinalAfterDays:           30,
		AgencyAfterDays:          60,
		VerificationWindowHours:  48,
		ClaimReminderFirstHours:  24,
		ClaimReminderUrgentHours: 6,
		StatutoryInterestRate:    8.0,
		BOEBaseRate:              5.25,
		CronAuthToken:            "cron-secret",
		CollectionsFromEmail:     "collections@recoup.uk",
		CollectionsFromName:      "Recoup Collections",
		PaymentLinkBaseURL:       "https://recoup.uk/pay",
	}
}

func newTestHandlers(repo store.Repository) *CollectionsHandlers {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	service := app.NewService(repo, app.Senders{}, allowGuard{}, app.NewAnalytics(nil, logger), logger, apiTestConfig())
	return NewCollectionsHandlers(service, logger)
}

// overdueTestInvoice returns an invoice 20 days past due.
func overdueTestInvoice() domain.Invoice {
	now := time.Now().UTC()
	due := now.AddDate(0, 0, -20)
	return domain.Invoice{
		ID:                 uuid.New(),
		FreelancerID:       uuid.New(),
		ClientID:           uuid.New(),
		Reference:          "INV-20260805-00007",
		AmountPence:        240000,
		Currency:           "GBP",
		Status:             domain.InvoiceStatusOverdue,
		DueDate:            due,
		IssuedAt:           due.AddDate(0, 0, -14),
		ClientName:         "Harbourview Media Ltd",
		ClientEmail:        "accounts@harbourview.example",
		CollectionsEnabled: true,
	}
}

// authedRequest builds a request carrying chi URL params and an
// authenticated freelancer, bypassing the JWT middleware.
func authedRequest(method, target string, body io.Reader, freelancerID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, freelancerIDKey, freelancerID)
	return req.WithContext(ctx)
}

func TestRoutes_HealthOpen(t *testing.T) {
	handlers := newTestHandlers(&apiRepoStub{})
	server := httptest.NewServer(Routes(handlers, apiTestConfig()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCronRoutes_RejectBadToken(t *testing.T) {
	handlers := newTestHandlers(&apiRepoStub{})
	server := httptest.NewServer(Routes(handlers, apiTestConfig()))
	defer server.Close()

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "wrong token", token: "not-the-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, server.URL+"/internal/cron/escalations", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestCronRoutes_FailClosedWithoutSecret(t *testing.T) {
	cfg := apiTestConfig()
	cfg.CronAuthToken = ""
	handlers := newTestHandlers(&apiRepoStub{})
	server := httptest.NewServer(Routes(handlers, cfg))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/internal/cron/escalations", nil)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no secret is configured, got %d", resp.StatusCode)
	}
}

func TestCronRoutes_RunEscalationsReturnsSummary(t *testing.T) {
	handlers := newTestHandlers(&apiRepoStub{})
	server := httptest.NewServer(Routes(handlers, apiTestConfig()))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/internal/cron/escalations", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var summary domain.EscalationRunSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.Scanned != 0 || summary.Escalated != 0 {
		t.Fatalf("expected an empty run summary, got %+v", summary)
	}
}

func TestFilePaymentClaimRoute_CreatesClaim(t *testing.T) {
	inv := overdueTestInvoice()
	repo := &apiRepoStub{
		invoice:    &inv,
		freelancer: &domain.Freelancer{ID: inv.FreelancerID, Email: "maya@example.com", SubscriptionTier: domain.TierGrowth},
	}
	handlers := newTestHandlers(repo)
	server := httptest.NewServer(Routes(handlers, apiTestConfig()))
	defer server.Close()

	body := bytes.NewBufferString(`{"amount_pence": 240000, "payment_method": "bank_transfer"}`)
	resp, err := http.Post(server.URL+"/public/invoices/"+inv.ID.String()+"/payment-claims", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var claim domain.PaymentClaim
	if err := json.NewDecoder(resp.Body).Decode(&claim); err != nil {
		t.Fatalf("failed to decode claim: %v", err)
	}
	if claim.Status != domain.ClaimStatusPendingVerification {
		t.Fatalf("expected a pending claim, got %s", claim.Status)
	}
	if repo.createdClaim == nil || repo.createdClaim.InvoiceID != inv.ID {
		t.Fatalf("expected the claim persisted for the invoice, got %+v", repo.createdClaim)
	}
}

func TestFilePaymentClaimRoute_SecondClaimConflicts(t *testing.T) {
	inv := overdueTestInvoice()
	repo := &apiRepoStub{invoice: &inv, createErr: store.ErrActiveClaimExists}
	handlers := newTestHandlers(repo)
	server := httptest.NewServer(Routes(handlers, apiTestConfig()))
	defer server.Close()

	body := bytes.NewBufferString(`{"amount_pence": 240000, "payment_method": "bank_transfer"}`)
	resp, err := http.Post(server.URL+"/public/invoices/"+inv.ID.String()+"/payment-claims", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a second active claim, got %d", resp.StatusCode)
	}
}

func TestFilePaymentClaimRoute_RejectsBadPayload(t *testing.T) {
	inv := overdueTestInvoice()
	repo := &apiRepoStub{invoice: &inv}
	handlers := newTestHandlers(repo)
	server := httptest.NewServer(Routes(handlers, apiTestConfig()))
	defer server.Close()

	body := bytes.NewBufferString(`{"amount_pence": 0, "payment_method": "bank_transfer"}`)
	resp, err := http.Post(server.URL+"/public/invoices/"+inv.ID.String()+"/payment-claims", "application/json", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a zero amount, got %d", resp.StatusCode)
	}
}

func TestTimelineHandler_OwnershipMismatchReadsNotFound(t *testing.T) {
	inv := overdueTestInvoice()
	handlers := newTestHandlers(&apiRepoStub{invoice: &inv})

	req := authedRequest(http.MethodGet, "/api/v1/invoices/"+inv.ID.String()+"/collections/timeline", nil,
		uuid.New(), map[string]string{"invoiceID": inv.ID.String()})
	rec := httptest.NewRecorder()
	handlers.TimelineHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another freelancer's invoice, got %d", rec.Code)
	}
}

func TestTimelineHandler_ReturnsEvents(t *testing.T) {
	inv := overdueTestInvoice()
	repo := &apiRepoStub{invoice: &inv}
	repo.events = append(repo.events, domain.TimelineEvent{
		EventID:   uuid.New(),
		InvoiceID: inv.ID,
		EventType: domain.EventEscalated,
		Message:   "Escalated from pending to gentle (6 days overdue)",
	})
	handlers := newTestHandlers(repo)

	req := authedRequest(http.MethodGet, "/api/v1/invoices/"+inv.ID.String()+"/collections/timeline", nil,
		inv.FreelancerID, map[string]string{"invoiceID": inv.ID.String()})
	rec := httptest.NewRecorder()
	handlers.TimelineHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var events []domain.TimelineEvent
	if err := json.NewDecoder(rec.Body).Decode(&events); err != nil {
		t.Fatalf("failed to decode events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != domain.EventEscalated {
		t.Fatalf("expected the escalation event back, got %+v", events)
	}
}

func TestInterestHandler_ReturnsBreakdown(t *testing.T) {
	inv := overdueTestInvoice()
	handlers := newTestHandlers(&apiRepoStub{invoice: &inv})

	req := authedRequest(http.MethodGet, "/api/v1/invoices/"+inv.ID.String()+"/collections/interest", nil,
		inv.FreelancerID, map[string]string{"invoiceID": inv.ID.String()})
	rec := httptest.NewRecorder()
	handlers.InterestHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var breakdown app.InterestBreakdown
	if err := json.NewDecoder(rec.Body).Decode(&breakdown); err != nil {
		t.Fatalf("failed to decode breakdown: %v", err)
	}
	if breakdown.PrincipalPence != inv.AmountPence {
		t.Fatalf("expected principal %d, got %d", inv.AmountPence, breakdown.PrincipalPence)
	}
	if breakdown.AccruedPence <= 0 {
		t.Fatalf("expected accrued interest on an overdue invoice, got %d", breakdown.AccruedPence)
	}
}

func TestManualActionHandler_UnknownActionRejected(t *testing.T) {
	inv := overdueTestInvoice()
	repo := &apiRepoStub{
		invoice:    &inv,
		freelancer: &domain.Freelancer{ID: inv.FreelancerID, Email: "maya@example.com", SubscriptionTier: domain.TierGrowth},
	}
	handlers := newTestHandlers(repo)

	body := bytes.NewBufferString(`{"action": "fax"}`)
	req := authedRequest(http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/collections/actions", body,
		inv.FreelancerID, map[string]string{"invoiceID": inv.ID.String()})
	rec := httptest.NewRecorder()
	handlers.ManualActionHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown action, got %d", rec.Code)
	}
}

func TestVerifyPaymentClaimHandler_FinalizedClaimConflicts(t *testing.T) {
	freelancerID := uuid.New()
	handlers := newTestHandlers(&apiRepoStub{
		claim: &domain.PaymentClaim{
			ID:           uuid.New(),
			InvoiceID:    uuid.New(),
			FreelancerID: freelancerID,
			Status:       domain.ClaimStatusRejected,
		},
	})

	claimID := uuid.New()
	req := authedRequest(http.MethodPost, "/api/v1/payment-claims/"+claimID.String()+"/verify", nil,
		freelancerID, map[string]string{"claimID": claimID.String()})
	rec := httptest.NewRecorder()
	handlers.VerifyPaymentClaimHandler(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an already-resolved claim, got %d", rec.Code)
	}
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})
	guarded := AuthMiddleware("http://127.0.0.1:0/jwks.json", "", "")(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rec.Code)
	}
}

func TestParseOptionalInt(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "empty uses fallback", raw: "", want: 25},
		{name: "valid value", raw: "10", want: 10},
		{name: "negative rejected", raw: "-3", wantErr: true},
		{name: "garbage rejected", raw: "ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptionalInt(tt.raw, 25)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
