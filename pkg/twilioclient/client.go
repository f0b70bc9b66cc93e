/**
 * @description
 * This package provides a client for the Twilio REST API. The dispatcher
 * uses it for the two voice-capable channels: SMS reminders at firm and
 * above, and automated voice calls at the final demand stage.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, strings, time: Standard Go libraries.
 */
package twilioclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the Twilio API.
type Client struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	HTTPClient *http.Client
}

// NewClient creates a new Twilio API client.
func NewClient(baseURL, accountSID, authToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		AccountSID: accountSID,
		AuthToken:  authToken,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// MessageResponse is the subset of Twilio's message resource the engine uses.
type MessageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// ErrorResponse represents an error from the Twilio API.
type ErrorResponse struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("twilio api error %d: %s", e.Code, e.Message)
}

// SendSMS sends a text message and returns the message SID.
func (c *Client) SendSMS(ctx context.Context, from, to, body string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)
	return c.postResource(ctx, "Messages.json", form)
}

// PlaceCall starts an outbound call that reads the given TwiML. Returns the
// call SID.
func (c *Client) PlaceCall(ctx context.Context, from, to, twiml string) (string, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Twiml", twiml)
	return c.postResource(ctx, "Calls.json", form)
}

// postResource executes a form POST against an account-scoped resource.
func (c *Client) postResource(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.BaseURL, c.AccountSID, resource)

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create twilio request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.AccountSID, c.AuthToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute twilio request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read twilio response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return "", fmt.Errorf("twilio returned status %d", resp.StatusCode)
		}
		return "", &errResp
	}

	var msg MessageResponse
	if err := json.Unmarshal(bodyBytes, &msg); err != nil {
		return "", fmt.Errorf("failed to decode twilio response: %w", err)
	}
	return msg.SID, nil
}
