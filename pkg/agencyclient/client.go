/**
 * @description
 * Client for the partner debt collection agency's referral API. When an
 * invoice reaches the agency stage, the engine hands the case over with the
 * debtor's details and the agreed commission rate, and records the returned
 * case number on the invoice timeline.
 */
package agencyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the collection agency referral service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new agency referral client.
func NewClient(baseURL, apiKey string) *Client {
	normalizedURL := strings.TrimSuffix(baseURL, "/")
	return &Client{
		baseURL:    normalizedURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ReferralRequest is the case handover payload.
type ReferralRequest struct {
	InvoiceID             string  `json:"invoice_id"`
	InvoiceReference      string  `json:"invoice_reference"`
	AmountPence           int64   `json:"amount_pence"`
	Currency              string  `json:"currency"`
	DaysOverdue           int     `json:"days_overdue"`
	CommissionRatePercent float64 `json:"commission_rate_percent"`
	CreditorName          string  `json:"creditor_name"`
	CreditorEmail         string  `json:"creditor_email"`
	DebtorName            string  `json:"debtor_name"`
	DebtorEmail           string  `json:"debtor_email"`
	DebtorPhone           string  `json:"debtor_phone,omitempty"`
	DebtorAddressLine1    string  `json:"debtor_address_line1,omitempty"`
	DebtorAddressLine2    string  `json:"debtor_address_line2,omitempty"`
	DebtorCity            string  `json:"debtor_city,omitempty"`
	DebtorPostcode        string  `json:"debtor_postcode,omitempty"`
}

// ReferralResponse is the agency's acknowledgement.
type ReferralResponse struct {
	ReferralID string `json:"referral_id"`
	CaseNumber string `json:"case_number"`
	Status     string `json:"status"`
}

// SubmitReferral hands a case to the agency.
func (c *Client) SubmitReferral(ctx context.Context, referral ReferralRequest) (*ReferralResponse, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("agency base URL is not configured")
	}

	body, err := json.Marshal(referral)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal referral payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/referrals", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to agency service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("agency service returned error status %d", resp.StatusCode)
	}

	var referralResp ReferralResponse
	if err := json.NewDecoder(resp.Body).Decode(&referralResp); err != nil {
		return nil, fmt.Errorf("failed to decode agency response: %w", err)
	}
	return &referralResp, nil
}
