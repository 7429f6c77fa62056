package pricefeed_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/swapkit/client/pricefeed"
)

func TestLatestQuotes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/cryptocurrency/quotes/latest", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-CMC_PRO_API_KEY"))
		assert.Equal(t, "ETH,USDC", r.URL.Query().Get("symbol"))
		assert.Equal(t, "EUR", r.URL.Query().Get("convert"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": {
				"ETH":  [{"symbol": "ETH",  "quote": {"EUR": {"price": 2345.67}}}],
				"USDC": [{"symbol": "USDC", "quote": {"EUR": {"price": 0.92}}}]
			}
		}`))
	}))
	defer server.Close()

	client := pricefeed.NewClient(server.URL, "test-key")
	rates, err := client.LatestQuotes(context.Background(), []string{"eth", "usdc"}, "eur")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"ETH": 2345.67, "USDC": 0.92}, rates)
}

func TestLatestQuotesDefaultsToUSD(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USD", r.URL.Query().Get("convert"))
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": {"ETH": [{"symbol": "ETH", "quote": {"USD": {"price": 2500}}}]}
		}`))
	}))
	defer server.Close()

	client := pricefeed.NewClient(server.URL, "test-key")
	rates, err := client.LatestQuotes(context.Background(), []string{"ETH"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, rates["ETH"])
}

func TestLatestQuotesSkipsSymbolsWithoutRequestedFiat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 0},
			"data": {
				"ETH":  [{"symbol": "ETH",  "quote": {"USD": {"price": 2500}}}],
				"USDC": [{"symbol": "USDC", "quote": {"EUR": {"price": 0.92}}}]
			}
		}`))
	}))
	defer server.Close()

	client := pricefeed.NewClient(server.URL, "test-key")
	rates, err := client.LatestQuotes(context.Background(), []string{"ETH", "USDC"}, "USD")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, rates["ETH"])
	assert.NotContains(t, rates, "USDC")
}

func TestLatestQuotesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": {"error_code": 1001, "error_message": "API key invalid"},
			"data": {}
		}`))
	}))
	defer server.Close()

	client := pricefeed.NewClient(server.URL, "bad-key")
	_, err := client.LatestQuotes(context.Background(), []string{"ETH"}, "USD")
	require.Error(t, err)

	var apiErr *pricefeed.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 1001, apiErr.StatusCode)
	assert.Equal(t, "API key invalid", apiErr.Message)
}

func TestLatestQuotesEmptySymbols(t *testing.T) {
	client := pricefeed.NewClient("http://localhost", "test-key")
	_, err := client.LatestQuotes(context.Background(), nil, "USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbols cannot be empty")
}
