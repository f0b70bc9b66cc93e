/**
 * @description
 * This package provides a client for the Lob print-and-mail API. The
 * dispatcher uses it to post physical letters before action at the final
 * demand stage, when an invoice carries a usable postal address.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package lobclient

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

// Client is a client for the Lob API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Lob API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Address is a postal address as Lob expects it.
type Address struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	AddressCity  string `json:"address_city"`
	AddressZip   string `json:"address_zip"`
	Country      string `json:"address_country"`
}

// LetterRequest is the payload for creating a letter.
type LetterRequest struct {
	Description string  `json:"description"`
	To          Address `json:"to"`
	From        Address `json:"from"`
	File        string  `json:"file"`
	Color       bool    `json:"color"`
}

// LetterResponse is the subset of Lob's letter resource the engine uses.
type LetterResponse struct {
	ID                   string `json:"id"`
	ExpectedDeliveryDate string `json:"expected_delivery_date"`
	Carrier              string `json:"carrier"`
}

// ErrorResponse represents an error from the Lob API.
type ErrorResponse struct {
	ErrorBody struct {
		Message    string `json:"message"`
		StatusCode int    `json:"status_code"`
		Code       string `json:"code"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("lob api error %s: %s", e.ErrorBody.Code, e.ErrorBody.Message)
}

// CreateLetter submits a letter for printing and posting. The file field
// carries the rendered HTML body. Returns the Lob letter id.
func (c *Client) CreateLetter(ctx context.Context, letter LetterRequest) (*LetterResponse, error) {
	body, err := json.Marshal(letter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal letter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/letters", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create letter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Lob authenticates with the API key as the basic-auth username.
	req.SetBasicAuth(c.APIKey, "")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute letter request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read letter response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.ErrorBody.Message == "" {
			return nil, fmt.Errorf("lob returned status %d", resp.StatusCode)
		}
		return nil, &errResp
	}

	var letterResp LetterResponse
	if err := json.Unmarshal(bodyBytes, &letterResp); err != nil {
		return nil, fmt.Errorf("failed to decode letter response: %w", err)
	}
	return &letterResp, nil
}
