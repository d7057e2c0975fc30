// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-json-experiment/json"
)

// DefaultFrankfurterURL is the public Frankfurter exchange rate API.
const DefaultFrankfurterURL = "https://api.frankfurter.app"

// RateClient fetches currency exchange rates from a Frankfurter compatible
// API.
type RateClient struct {
	baseURL string
	client  *http.Client
}

// NewRateClient creates a RateClient against baseURL. An empty baseURL
// selects the public Frankfurter API.
func NewRateClient(baseURL string) *RateClient {
	if baseURL == "" {
		baseURL = DefaultFrankfurterURL
	}
	return &RateClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// exchangeRateResult is the Frankfurter response shape.
type exchangeRateResult struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// GetExchangeRate returns a sentence describing the rate between two
// currencies. date is a calendar date or "latest".
func (c *RateClient) GetExchangeRate(ctx context.Context, from, to, date string) (string, error) {
	if date == "" {
		date = "latest"
	}

	query := url.Values{}
	query.Set("from", from)
	query.Set("to", to)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(date), query.Encode()), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("exchange rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("exchange rate API returned status %d", resp.StatusCode)
	}

	var result exchangeRateResult
	if err := json.UnmarshalRead(resp.Body, &result); err != nil {
		return "", fmt.Errorf("decode exchange rate response: %w", err)
	}

	rate, ok := result.Rates[to]
	if !ok {
		return "", fmt.Errorf("no rate for %s in API response", to)
	}
	return fmt.Sprintf("The exchange rate from %s to %s is %g.", from, to, rate), nil
}
