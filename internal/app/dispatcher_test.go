package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/recoup/collections-engine/internal/domain"
	"github.com/recoup/collections-engine/internal/store"
	"github.com/recoup/collections-engine/pkg/agencyclient"
	"github.com/recoup/collections-engine/pkg/lobclient"
	"github.com/recoup/collections-engine/pkg/sendgridclient"
)

type dispatchRepoStub struct {
	store.Repository

	invoice     *domain.Invoice
	freelancer  *domain.Freelancer
	autoCfg     *domain.AutomationConfig
	consent     *domain.CollectionsConsent
	state       *domain.EscalationState
	alreadySent bool
	hasReferral bool

	attempts []domain.CollectionAttempt
	events   []domain.TimelineEvent
}

func (s *dispatchRepoStub) FindInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error) {
	if s.invoice == nil {
		return nil, store.ErrInvoiceNotFound
	}
	return s.invoice, nil
}

func (s *dispatchRepoStub) GetFreelancer(ctx context.Context, freelancerID uuid.UUID) (*domain.Freelancer, error) {
	if s.freelancer == nil {
		return nil, store.ErrFreelancerNotFound
	}
	return s.freelancer, nil
}

func (s *dispatchRepoStub) GetAutomationConfig(ctx context.Context, freelancerID uuid.UUID) (*domain.AutomationConfig, error) {
	if s.autoCfg != nil {
		return s.autoCfg, nil
	}
	cfg := domain.DefaultAutomationConfig(freelancerID)
	return &cfg, nil
}

func (s *dispatchRepoStub) GetCollectionsConsent(ctx context.Context, clientID uuid.UUID) (*domain.CollectionsConsent, error) {
	if s.consent == nil {
		return nil, store.ErrConsentNotFound
	}
	return s.consent, nil
}

func (s *dispatchRepoStub) GetOrCreateEscalationState(ctx context.Context, invoiceID uuid.UUID, seedLevel domain.EscalationLevel) (*domain.EscalationState, bool, error) {
	if s.state == nil {
		s.state = &domain.EscalationState{InvoiceID: invoiceID, CurrentLevel: seedLevel}
		return s.state, true, nil
	}
	return s.state, false, nil
}

func (s *dispatchRepoStub) HasCollectionAttempt(ctx context.Context, invoiceID uuid.UUID, level domain.EscalationLevel) (bool, error) {
	return s.alreadySent, nil
}

func (s *dispatchRepoStub) HasAgencyReferral(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	return s.hasReferral, nil
}

func (s *dispatchRepoStub) RecordCollectionAttempt(ctx context.Context, attempt domain.CollectionAttempt) error {
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *dispatchRepoStub) AppendTimelineEvent(ctx context.Context, event domain.TimelineEvent) error {
	s.events = append(s.events, event)
	return nil
}

type voiceCallerStub struct {
	twiml []string
	err   error
}

func (s *voiceCallerStub) PlaceCall(ctx context.Context, from, to, twiml string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.twiml = append(s.twiml, twiml)
	return "call-1", nil
}

type letterSenderStub struct {
	letters []lobclient.LetterRequest
	err     error
}

func (s *letterSenderStub) CreateLetter(ctx context.Context, letter lobclient.LetterRequest) (*lobclient.LetterResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.letters = append(s.letters, letter)
	return &lobclient.LetterResponse{ID: "ltr_1"}, nil
}

func withPostalAddress(inv domain.Invoice) domain.Invoice {
	line1 := "1 Harbour Street"
	city := "Bristol"
	postcode := "BS1 4DJ"
	inv.ClientAddressLine1 = &line1
	inv.ClientCity = &city
	inv.ClientPostcode = &postcode
	return inv
}

func attemptsOfType(attempts []domain.CollectionAttempt, attemptType string) []domain.CollectionAttempt {
	var out []domain.CollectionAttempt
	for _, a := range attempts {
		if a.Type == attemptType {
			out = append(out, a)
		}
	}
	return out
}

func TestDispatchReminders_NoConsentRecordFallsBackToEmailOnly(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
	}
	email := &emailSenderStub{}
	sms := &smsSenderStub{}
	svc := newTestService(repo, Senders{Email: email, SMS: sms}, openGuard(), at)

	attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFirm, 20)
	if attempted != 1 {
		t.Fatalf("expected only the email to go out, got %d attempts", attempted)
	}
	if len(email.sent) != 1 || len(sms.sent) != 0 {
		t.Fatalf("expected email=1 sms=0 without a consent record, got %d/%d", len(email.sent), len(sms.sent))
	}
}

func TestDispatchReminders_ChannelToggleDisablesSMS(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	autoCfg := domain.DefaultAutomationConfig(inv.FreelancerID)
	autoCfg.SMSEnabled = false
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		autoCfg:    &autoCfg,
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	sms := &smsSenderStub{}
	svc := newTestService(repo, Senders{Email: email, SMS: sms}, openGuard(), at)

	if attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFirm, 20); attempted != 1 {
		t.Fatalf("expected one attempt with sms toggled off, got %d", attempted)
	}
	if len(sms.sent) != 0 {
		t.Fatalf("sms toggle off must suppress the send, got %d", len(sms.sent))
	}
}

func TestDispatchReminders_StarterTierIsEmailOnly(t *testing.T) {
	at := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)
	inv := withPostalAddress(overdueInvoice(35, at))
	freelancer := growthFreelancer(inv.FreelancerID)
	freelancer.SubscriptionTier = domain.TierStarter
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: freelancer,
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	sms := &smsSenderStub{}
	voice := &voiceCallerStub{}
	letter := &letterSenderStub{}
	svc := newTestService(repo, Senders{Email: email, SMS: sms, Voice: voice, Letter: letter}, openGuard(), at)

	if attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFinal, 35); attempted != 1 {
		t.Fatalf("expected starter tier to send email only, got %d attempts", attempted)
	}
	if len(email.sent) != 1 || len(sms.sent) != 0 || len(voice.twiml) != 0 || len(letter.letters) != 0 {
		t.Fatalf("expected 1/0/0/0 sends for starter tier, got %d/%d/%d/%d",
			len(email.sent), len(sms.sent), len(voice.twiml), len(letter.letters))
	}
}

func TestDispatchReminders_FinalLevelFansOutAllChannels(t *testing.T) {
	at := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)
	inv := withPostalAddress(overdueInvoice(35, at))
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	sms := &smsSenderStub{}
	voice := &voiceCallerStub{}
	letter := &letterSenderStub{}
	svc := newTestService(repo, Senders{Email: email, SMS: sms, Voice: voice, Letter: letter}, openGuard(), at)

	attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFinal, 35)
	if attempted != 4 {
		t.Fatalf("expected four channels at the final level, got %d", attempted)
	}
	if len(repo.attempts) != 4 {
		t.Fatalf("expected four attempt rows, got %d", len(repo.attempts))
	}
	for _, attempt := range repo.attempts {
		if attempt.Status != domain.AttemptStatusSent {
			t.Fatalf("expected all sends to succeed, got %+v", attempt)
		}
	}
	if len(eventsOfType(repo.events, domain.EventReminderSent)) != 4 {
		t.Fatalf("expected four reminder_sent events, got %d", len(eventsOfType(repo.events, domain.EventReminderSent)))
	}

	if len(letter.letters) != 1 {
		t.Fatalf("expected one letter, got %d", len(letter.letters))
	}
	if !strings.Contains(letter.letters[0].File, "LETTER BEFORE ACTION") {
		t.Fatal("expected the final letter to open as a letter before action")
	}
	if letter.letters[0].To.AddressZip != "BS1 4DJ" {
		t.Fatalf("expected the client postcode on the letter, got %q", letter.letters[0].To.AddressZip)
	}
	if len(voice.twiml) != 1 || !strings.Contains(voice.twiml[0], "<Say") {
		t.Fatalf("expected a TwiML voice script, got %v", voice.twiml)
	}
}

func TestDispatchReminders_MissingContactDetailsSkipChannels(t *testing.T) {
	at := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(35, at)
	inv.ClientPhone = nil // and no postal address
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	sms := &smsSenderStub{}
	voice := &voiceCallerStub{}
	letter := &letterSenderStub{}
	svc := newTestService(repo, Senders{Email: email, SMS: sms, Voice: voice, Letter: letter}, openGuard(), at)

	if attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFinal, 35); attempted != 1 {
		t.Fatalf("expected only email for a contact with no phone or address, got %d", attempted)
	}
	if len(sms.sent) != 0 || len(voice.twiml) != 0 || len(letter.letters) != 0 {
		t.Fatal("channels without contact details must be skipped")
	}
}

func TestDispatchReminders_ProviderFailureRecordsFailedAttempt(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{err: errors.New("sendgrid unavailable")}
	sms := &smsSenderStub{}
	svc := newTestService(repo, Senders{Email: email, SMS: sms}, openGuard(), at)

	attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFirm, 20)
	if attempted != 2 {
		t.Fatalf("a failed provider still counts as an attempt, got %d", attempted)
	}

	failed := attemptsOfType(repo.attempts, string(domain.ChannelEmail))
	if len(failed) != 1 || failed[0].Status != domain.AttemptStatusFailed {
		t.Fatalf("expected a failed email attempt row, got %+v", failed)
	}
	if failed[0].FailureReason == nil || !strings.Contains(*failed[0].FailureReason, "sendgrid unavailable") {
		t.Fatalf("expected the provider error as the failure reason, got %v", failed[0].FailureReason)
	}

	// Only the successful sms lands on the timeline.
	if len(eventsOfType(repo.events, domain.EventReminderSent)) != 1 {
		t.Fatalf("expected one reminder_sent event, got %d", len(eventsOfType(repo.events, domain.EventReminderSent)))
	}
}

func TestDispatchReminders_BudgetExhaustedRecordsFailedAttempts(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	sms := &smsSenderStub{}
	guard := &guardStub{dailyAllowed: true, budgetAllowed: false}
	svc := newTestService(repo, Senders{Email: email, SMS: sms}, guard, at)

	if attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelFirm, 20); attempted != 0 {
		t.Fatalf("expected no sends on an exhausted budget, got %d", attempted)
	}
	if len(email.sent) != 0 || len(sms.sent) != 0 {
		t.Fatal("exhausted budget must suppress every send")
	}
	if len(repo.attempts) != 2 {
		t.Fatalf("expected a failed attempt row per blocked channel, got %d", len(repo.attempts))
	}
	for _, attempt := range repo.attempts {
		if attempt.Status != domain.AttemptStatusFailed || attempt.FailureReason == nil || *attempt.FailureReason != "action budget exhausted" {
			t.Fatalf("expected budget-exhausted failure rows, got %+v", attempt)
		}
	}
}

func TestDispatchReminders_AgencyLevelRefersProCase(t *testing.T) {
	at := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
	inv := withPostalAddress(overdueInvoice(65, at))
	freelancer := growthFreelancer(inv.FreelancerID)
	freelancer.SubscriptionTier = domain.TierPro
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: freelancer,
		consent:    fullConsent(inv.ClientID),
	}

	var got agencyclient.ReferralRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/referrals" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode referral payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"referral_id":"ref_123","case_number":"DCA-2026-0815","status":"accepted"}`))
	}))
	defer server.Close()

	email := &emailSenderStub{}
	letter := &letterSenderStub{}
	svc := newTestService(repo, Senders{
		Email:  email,
		Letter: letter,
		Agency: agencyclient.NewClient(server.URL, "test-key"),
	}, openGuard(), at)

	attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelAgency, 65)
	if attempted != 3 {
		t.Fatalf("expected email, letter, and referral at the agency level, got %d", attempted)
	}

	if got.InvoiceID != inv.ID.String() {
		t.Fatalf("expected referral for invoice %s, got %s", inv.ID, got.InvoiceID)
	}
	if got.CommissionRatePercent != 15 {
		t.Fatalf("expected 15%% commission at 65 days, got %v", got.CommissionRatePercent)
	}
	if got.DebtorPostcode != "BS1 4DJ" {
		t.Fatalf("expected debtor postcode on the referral, got %q", got.DebtorPostcode)
	}

	referrals := attemptsOfType(repo.attempts, domain.AttemptTypeAgencyReferral)
	if len(referrals) != 1 || referrals[0].Status != domain.AttemptStatusSent {
		t.Fatalf("expected one sent referral attempt, got %+v", referrals)
	}
	if referrals[0].ProviderMessageID == nil || *referrals[0].ProviderMessageID != "ref_123" {
		t.Fatalf("expected the referral id on the attempt, got %v", referrals[0].ProviderMessageID)
	}

	foundCase := false
	for _, e := range eventsOfType(repo.events, domain.EventReminderSent) {
		if strings.Contains(e.Message, "DCA-2026-0815") {
			foundCase = true
		}
	}
	if !foundCase {
		t.Fatal("expected the agency case number on the timeline")
	}
}

func TestDispatchReminders_ReferralIsOneTime(t *testing.T) {
	at := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(65, at)
	freelancer := growthFreelancer(inv.FreelancerID)
	freelancer.SubscriptionTier = domain.TierPro
	repo := &dispatchRepoStub{
		invoice:     &inv,
		freelancer:  freelancer,
		consent:     fullConsent(inv.ClientID),
		hasReferral: true,
	}

	serverCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverCalls++
		_, _ = w.Write([]byte(`{"referral_id":"ref_dup","case_number":"DCA-DUP","status":"accepted"}`))
	}))
	defer server.Close()

	email := &emailSenderStub{}
	svc := newTestService(repo, Senders{
		Email:  email,
		Agency: agencyclient.NewClient(server.URL, "test-key"),
	}, openGuard(), at)

	svc.dispatchReminders(context.Background(), &inv, domain.LevelAgency, 65)
	if serverCalls != 0 {
		t.Fatalf("expected no second referral submission, got %d calls", serverCalls)
	}
	if len(attemptsOfType(repo.attempts, domain.AttemptTypeAgencyReferral)) != 0 {
		t.Fatal("expected no referral attempt row for an already-referred invoice")
	}
}

func TestDispatchReminders_EmailThroughRealClient(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(7, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}

	var gotAuth string
	var gotBody sendgridclient.SendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/mail/send" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode mail payload: %v", err)
		}
		w.Header().Set("X-Message-Id", "msg-456")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	svc := newTestService(repo, Senders{Email: sendgridclient.NewClient(server.URL, "sg-test-key")}, openGuard(), at)

	if attempted := svc.dispatchReminders(context.Background(), &inv, domain.LevelGentle, 7); attempted != 1 {
		t.Fatalf("expected one email attempt, got %d", attempted)
	}
	if gotAuth != "Bearer sg-test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if len(gotBody.Personalizations) != 1 || gotBody.Personalizations[0].To[0].Email != inv.ClientEmail {
		t.Fatalf("expected mail addressed to the client, got %+v", gotBody.Personalizations)
	}
	if len(repo.attempts) != 1 || repo.attempts[0].ProviderMessageID == nil || *repo.attempts[0].ProviderMessageID != "msg-456" {
		t.Fatalf("expected the provider message id on the attempt, got %+v", repo.attempts)
	}
}

func TestRunManualAction_SendsDespiteDisabledToggle(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	autoCfg := domain.DefaultAutomationConfig(inv.FreelancerID)
	autoCfg.SMSEnabled = false
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		autoCfg:    &autoCfg,
		consent:    fullConsent(inv.ClientID),
		state:      &domain.EscalationState{InvoiceID: inv.ID, CurrentLevel: domain.LevelFirm},
	}
	sms := &smsSenderStub{}
	svc := newTestService(repo, Senders{SMS: sms}, openGuard(), at)

	attempt, err := svc.RunManualAction(context.Background(), inv.FreelancerID, inv.ID, "sms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempt.Status != domain.AttemptStatusSent {
		t.Fatalf("expected a sent attempt, got %+v", attempt)
	}
	if len(sms.sent) != 1 {
		t.Fatalf("a manual action overrides the automation toggle, got %d sends", len(sms.sent))
	}
}

func TestRunManualAction_PendingInvoiceUsesGentleWording(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(2, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	svc := newTestService(repo, Senders{Email: email}, openGuard(), at)

	attempt, err := svc.RunManualAction(context.Background(), inv.FreelancerID, inv.ID, "email")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempt.Level != domain.LevelGentle {
		t.Fatalf("expected gentle wording for a pending invoice, got %s", attempt.Level)
	}
	if attempt.TemplateKey == nil || *attempt.TemplateKey != "gentle_email" {
		t.Fatalf("expected the gentle_email template, got %v", attempt.TemplateKey)
	}
}

func TestRunManualAction_UnknownActionRejected(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
	}
	svc := newTestService(repo, Senders{}, openGuard(), at)

	if _, err := svc.RunManualAction(context.Background(), inv.FreelancerID, inv.ID, "fax"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestRunManualAction_AgencyReferralRequiresProTier(t *testing.T) {
	at := time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(65, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
	}
	svc := newTestService(repo, Senders{}, openGuard(), at)

	if _, err := svc.RunManualAction(context.Background(), inv.FreelancerID, inv.ID, domain.AttemptTypeAgencyReferral); !errors.Is(err, ErrChannelNotAvailable) {
		t.Fatalf("expected ErrChannelNotAvailable for a growth account, got %v", err)
	}
}

func TestRunManualAction_BudgetExhausted(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	inv := overdueInvoice(20, at)
	repo := &dispatchRepoStub{
		invoice:    &inv,
		freelancer: growthFreelancer(inv.FreelancerID),
		consent:    fullConsent(inv.ClientID),
	}
	email := &emailSenderStub{}
	guard := &guardStub{dailyAllowed: true, budgetAllowed: false}
	svc := newTestService(repo, Senders{Email: email}, guard, at)

	if _, err := svc.RunManualAction(context.Background(), inv.FreelancerID, inv.ID, "email"); !errors.Is(err, ErrActionBudgetExhausted) {
		t.Fatalf("expected ErrActionBudgetExhausted, got %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatal("exhausted budget must block the manual send")
	}
}
