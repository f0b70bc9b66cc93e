/**
 * @description
 * This package provides a client for the SendGrid v3 Mail Send API. It is
 * used by the dispatcher to deliver collection reminder emails to clients
 * and claim verification nudges to freelancers.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package sendgridclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the SendGrid API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new SendGrid API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// EmailAddress is a name/address pair as SendGrid expects it.
type EmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SendRequest is the payload for the v3 mail send endpoint.
type SendRequest struct {
	Personalizations []struct {
		To []EmailAddress `json:"to"`
	} `json:"personalizations"`
	From    EmailAddress  `json:"from"`
	ReplyTo *EmailAddress `json:"reply_to,omitempty"`
	Subject string        `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// ErrorResponse represents an error from the SendGrid API.
type ErrorResponse struct {
	Errors []struct {
		Message string  `json:"message"`
		Field   *string `json:"field"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("sendgrid api error: %s", e.Errors[0].Message)
	}
	return "unknown sendgrid api error"
}

// Email describes one outbound message.
type Email struct {
	FromEmail    string
	FromName     string
	ReplyToEmail string
	ToEmail      string
	ToName       string
	Subject      string
	TextBody     string
}

// Send submits the email and returns SendGrid's message id. SendGrid
// answers 202 Accepted with the id in the X-Message-Id header.
func (c *Client) Send(ctx context.Context, email Email) (string, error) {
	payload := SendRequest{
		From:    EmailAddress{Email: email.FromEmail, Name: email.FromName},
		Subject: email.Subject,
	}
	payload.Personalizations = make([]struct {
		To []EmailAddress `json:"to"`
	}, 1)
	payload.Personalizations[0].To = []EmailAddress{{Email: email.ToEmail, Name: email.ToName}}
	payload.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/plain", Value: email.TextBody}}
	if email.ReplyToEmail != "" {
		payload.ReplyTo = &EmailAddress{Email: email.ReplyToEmail}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v3/mail/send", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
		}
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || len(errResp.Errors) == 0 {
			return "", fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
		}
		return "", &errResp
	}

	return resp.Header.Get("X-Message-Id"), nil
}
