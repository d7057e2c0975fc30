// Copyright 2025 The Moneta Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newRatesStub serves a fixed rate table in the Frankfurter response shape.
func newRatesStub(t *testing.T, rates map[string]float64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"base":"USD","date":"2025-06-01","rates":{`)
		first := true
		for currency, rate := range rates {
			if !first {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%q:%g", currency, rate)
			first = false
		}
		fmt.Fprint(w, `}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRateClientGetExchangeRate(t *testing.T) {
	stub := newRatesStub(t, map[string]float64{"JPY": 147.72})
	c := NewRateClient(stub.URL)

	got, err := c.GetExchangeRate(context.Background(), "USD", "JPY", "latest")
	if err != nil {
		t.Fatalf("GetExchangeRate() error = %v", err)
	}
	want := "The exchange rate from USD to JPY is 147.72."
	if got != want {
		t.Errorf("GetExchangeRate() = %q, want %q", got, want)
	}
}

func TestRateClientMissingRate(t *testing.T) {
	stub := newRatesStub(t, map[string]float64{"EUR": 0.85})
	c := NewRateClient(stub.URL)

	if _, err := c.GetExchangeRate(context.Background(), "USD", "JPY", "latest"); err == nil {
		t.Error("GetExchangeRate() = nil error for a currency missing from the response")
	}
}

func TestRateClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRateClient(srv.URL)
	if _, err := c.GetExchangeRate(context.Background(), "USD", "XXX", "latest"); err == nil {
		t.Error("GetExchangeRate() = nil error for a non-200 response")
	}
}

func TestRateClientDefaultsDate(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, `{"base":"USD","date":"2025-06-01","rates":{"EUR":0.85}}`)
	}))
	defer srv.Close()

	c := NewRateClient(srv.URL)
	if _, err := c.GetExchangeRate(context.Background(), "USD", "EUR", ""); err != nil {
		t.Fatalf("GetExchangeRate() error = %v", err)
	}
	if path != "/latest" {
		t.Errorf("request path = %q, want /latest", path)
	}
}
