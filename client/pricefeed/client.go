// Package pricefeed talks to the external symbols -> fiat rates HTTP API.
package pricefeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	httpclient "github.com/stablepay/swapkit/client/http"
	"github.com/stablepay/swapkit/logger"
)

//go:generate mockgen -source=client.go -destination=../../mocks/pricefeed_mock.go -package=mocks -mock_names=Source=MockPriceSource

const (
	defaultTimeout = 10 * time.Second
)

// Source resolves the latest fiat quotes for a set of asset symbols. It is
// the seam the exchange rate service is tested through.
type Source interface {
	LatestQuotes(ctx context.Context, symbols []string, fiat string) (map[string]float64, error)
}

// Client manages communication with the price-feed API.
type Client struct {
	apiKey     string
	httpClient *httpclient.Client
	logger     *zap.Logger
}

// quoteEntry matches the per-symbol payload of the quotes endpoint.
type quoteEntry struct {
	Symbol string `json:"symbol"`
	Quote  map[string]struct {
		Price       float64 `json:"price"`
		LastUpdated string  `json:"last_updated"`
	} `json:"quote"`
}

type quotesResponse struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string][]quoteEntry `json:"data"`
}

// Error represents a logical error returned by the price-feed API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("price feed API error: status %d, message: %s", e.StatusCode, e.Message)
}

// NewClient creates a price-feed client against the given base URL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey: apiKey,
		httpClient: httpclient.NewClient(
			httpclient.WithBaseURL(baseURL),
			httpclient.WithTimeout(defaultTimeout),
		),
		logger: logger.Log,
	}
}

// LatestQuotes fetches the latest fiat price for each symbol. Symbols with no
// quote in the response are absent from the returned map.
func (c *Client) LatestQuotes(ctx context.Context, symbols []string, fiat string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("symbols cannot be empty")
	}
	fiat = strings.ToUpper(strings.TrimSpace(fiat))
	if fiat == "" {
		fiat = "USD"
	}

	var apiResponse quotesResponse
	err := c.httpClient.GetJSON(ctx, "/v2/cryptocurrency/quotes/latest", &apiResponse,
		httpclient.WithQueryParam("symbol", strings.ToUpper(strings.Join(symbols, ","))),
		httpclient.WithQueryParam("convert", fiat),
		httpclient.WithHeader("X-CMC_PRO_API_KEY", c.apiKey),
	)
	if err != nil {
		c.logger.Error("price feed request failed", zap.Error(err))
		return nil, fmt.Errorf("failed to get latest quotes: %w", err)
	}

	if apiResponse.Status.ErrorCode != 0 {
		return nil, &Error{
			StatusCode: apiResponse.Status.ErrorCode,
			Message:    apiResponse.Status.ErrorMessage,
		}
	}

	rates := make(map[string]float64, len(symbols))
	for symbol, entries := range apiResponse.Data {
		for _, entry := range entries {
			quote, ok := entry.Quote[fiat]
			if !ok {
				continue
			}
			rates[strings.ToUpper(symbol)] = quote.Price
			break
		}
	}
	return rates, nil
}
