// Package geo resolves the caller's country via an IP-geolocation HTTP API.
// The exchange rate service uses it once per day to pick a display locale.
package geo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	httpclient "github.com/stablepay/swapkit/client/http"
	"github.com/stablepay/swapkit/logger"
)

//go:generate mockgen -source=client.go -destination=../../mocks/geo_mock.go -package=mocks -mock_names=Locator=MockLocator

const defaultTimeout = 5 * time.Second

// Location describes where the caller appears to be.
type Location struct {
	CountryCode string `json:"countryCode"`
	Country     string `json:"country"`
	Currency    string `json:"currency"`
}

// Locator looks up the caller's location.
type Locator interface {
	Lookup(ctx context.Context) (*Location, error)
}

// Client queries an ip-api style geolocation endpoint.
type Client struct {
	httpClient *httpclient.Client
	logger     *zap.Logger
}

// NewClient creates a geolocation client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		httpClient: httpclient.NewClient(
			httpclient.WithBaseURL(baseURL),
			httpclient.WithTimeout(defaultTimeout),
		),
		logger: logger.Log,
	}
}

type lookupResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Currency    string `json:"currency"`
}

// Lookup resolves the current public IP's location.
func (c *Client) Lookup(ctx context.Context) (*Location, error) {
	var resp lookupResponse
	if err := c.httpClient.GetJSON(ctx, "/json", &resp,
		httpclient.WithQueryParam("fields", "status,message,country,countryCode,currency"),
	); err != nil {
		c.logger.Warn("geolocation lookup failed", zap.Error(err))
		return nil, fmt.Errorf("geolocation lookup failed: %w", err)
	}
	if resp.Status != "" && resp.Status != "success" {
		return nil, fmt.Errorf("geolocation lookup rejected: %s", resp.Message)
	}
	return &Location{
		CountryCode: resp.CountryCode,
		Country:     resp.Country,
		Currency:    resp.Currency,
	}, nil
}
