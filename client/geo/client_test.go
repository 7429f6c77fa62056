package geo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/swapkit/client/geo"
)

func TestLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json", r.URL.Path)
		assert.Equal(t, "status,message,country,countryCode,currency", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{
			"status": "success",
			"country": "Germany",
			"countryCode": "DE",
			"currency": "EUR"
		}`))
	}))
	defer server.Close()

	client := geo.NewClient(server.URL)
	loc, err := client.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &geo.Location{CountryCode: "DE", Country: "Germany", Currency: "EUR"}, loc)
}

func TestLookupRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": "fail", "message": "reserved range"}`))
	}))
	defer server.Close()

	client := geo.NewClient(server.URL)
	_, err := client.Lookup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved range")
}

func TestLookupWithoutStatusField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"country": "France", "countryCode": "FR", "currency": "EUR"}`))
	}))
	defer server.Close()

	client := geo.NewClient(server.URL)
	loc, err := client.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FR", loc.CountryCode)
}
