/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/friendsincode/doorkeeper/internal/models"
	"github.com/friendsincode/doorkeeper/internal/version"
)

// DefaultBaseURL is the public Nager.Date API.
const DefaultBaseURL = "https://date.nager.at"

// NagerClient fetches public holidays from a Nager.Date compatible API.
type NagerClient struct {
	baseURL    string
	country    string
	httpClient *http.Client
}

// NewNagerClient creates a client for country (ISO 3166-1 alpha-2).
func NewNagerClient(baseURL, country string, timeout time.Duration) *NagerClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NagerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		country:    strings.ToUpper(country),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Country returns the configured country code.
func (c *NagerClient) Country() string {
	return c.country
}

type nagerHoliday struct {
	Date      string `json:"date"`
	LocalName string `json:"localName"`
	Name      string `json:"name"`
	Global    *bool  `json:"global"`
}

// Fetch retrieves the holidays of year.
func (c *NagerClient) Fetch(ctx context.Context, year int) ([]models.Holiday, error) {
	url := fmt.Sprintf("%s/api/v3/PublicHolidays/%d/%s", c.baseURL, year, c.country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "doorkeeper/"+version.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch holidays: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch holidays: unexpected status %d", resp.StatusCode)
	}

	var raw []nagerHoliday
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode holidays: %w", err)
	}

	holidays := make([]models.Holiday, 0, len(raw))
	for _, h := range raw {
		// Regional holidays do not close the clinic.
		if h.Global != nil && !*h.Global {
			continue
		}
		holidays = append(holidays, models.Holiday{
			Date:      h.Date,
			Name:      h.Name,
			LocalName: h.LocalName,
		})
	}
	return holidays, nil
}
