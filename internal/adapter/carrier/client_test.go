package carrier

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/shipagent/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
}

func TestCreateShipmentSuccess(t *testing.T) {
	var shipCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/security/v1/oauth/token", tokenHandler)
	mux.HandleFunc("/api/shipments/v1/ship", func(w http.ResponseWriter, r *http.Request) {
		shipCalls++
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("X-Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"trackingNumbers": []string{"1Z999"},
			"shipmentId":      "ship-1",
			"labelRef":        "labels/ship-1.pdf",
			"totalChargesMinor": 1299,
			"breakdown": map[string]any{"transportationMinor": 1199, "dutiesTaxesMinor": 100, "currency": "USD"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Timeout: 5 * time.Second, MaxRetries: 1}, discardLogger())

	result, err := c.CreateShipment(t.Context(), domain.ShipmentRequest{
		ShipFrom: domain.CarrierAddress{Name: "A"}, ShipTo: domain.CarrierAddress{Name: "B"}, Service: "ground",
	}, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1Z999"}, result.TrackingNumbers)
	assert.Equal(t, "ship-1", result.ShipmentID)
	assert.Equal(t, int64(1299), result.TotalChargesMinor)
	assert.Equal(t, int64(100), result.Breakdown.DutiesTaxesMinor)
	assert.Equal(t, 1, shipCalls)
}

func TestCreateShipmentValidationErrorNotRetried(t *testing.T) {
	var shipCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/security/v1/oauth/token", tokenHandler)
	mux.HandleFunc("/api/shipments/v1/ship", func(w http.ResponseWriter, r *http.Request) {
		shipCalls++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"response": map[string]any{"errors": []map[string]any{{"code": "120300", "message": "invalid address"}}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Timeout: 5 * time.Second, MaxRetries: 3}, discardLogger())

	_, err := c.CreateShipment(t.Context(), domain.ShipmentRequest{}, "idem-2")
	require.Error(t, err)
	var taxErr *domain.TaxonomyError
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, "E-3003", taxErr.Code)
	assert.Equal(t, 1, shipCalls, "4xx must not be retried")
}

func TestCreateShipmentServerErrorRetriesThenSucceeds(t *testing.T) {
	var shipCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/security/v1/oauth/token", tokenHandler)
	mux.HandleFunc("/api/shipments/v1/ship", func(w http.ResponseWriter, r *http.Request) {
		shipCalls++
		if shipCalls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"trackingNumbers": []string{"1Z1"}, "shipmentId": "s2"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Timeout: 5 * time.Second, MaxRetries: 3}, discardLogger())

	result, err := c.CreateShipment(t.Context(), domain.ShipmentRequest{}, "idem-3")
	require.NoError(t, err)
	assert.Equal(t, "s2", result.ShipmentID)
	assert.GreaterOrEqual(t, shipCalls, 2)
}

func TestLookupShipmentNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/security/v1/oauth/token", tokenHandler)
	mux.HandleFunc("/api/shipments/v1/lookup", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"found": false})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, ClientID: "id", ClientSecret: "secret", Timeout: 5 * time.Second, MaxRetries: 1}, discardLogger())

	_, ok, err := c.LookupShipment(t.Context(), "idem-4", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTranslateClientErrorUnknownCode(t *testing.T) {
	raw := []byte(`{"response":{"errors":[{"code":"000000","message":"weird"}]}}`)
	err := translateClientError(raw)
	var taxErr *domain.TaxonomyError
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, "E-3006", taxErr.Code)
}

func TestTranslateClientErrorMalformedBody(t *testing.T) {
	err := translateClientError([]byte("not json"))
	var taxErr *domain.TaxonomyError
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, "E-3006", taxErr.Code)
}
