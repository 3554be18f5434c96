package yookassa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnitsAmount(t *testing.T) {
	assert.Equal(t, Amount{Value: "490.00", Currency: "RUB"}, MinorUnitsAmount(49000, "RUB"))
	assert.Equal(t, "0.05", MinorUnitsAmount(5, "USD").Value)

	d, err := MinorUnitsAmount(149050, "RUB").Decimal()
	require.NoError(t, err)
	assert.Equal(t, "1490.5", d.String())
}

func TestCreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "490.00", body["amount"].(map[string]any)["value"])
		assert.Equal(t, "7", body["metadata"].(map[string]any)["account_id"])

		_, _ = w.Write([]byte(`{"id":"pay-1","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://pay/1"}}`))
	}))
	defer srv.Close()

	c := NewClient("shop", "secret").WithBaseURL(srv.URL)
	p, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		Amount:         MinorUnitsAmount(49000, "RUB"),
		ReturnURL:      "https://app/return",
		Metadata:       map[string]string{"account_id": "7"},
		IdempotenceKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)
	assert.Equal(t, "https://pay/1", p.Confirmation.URL)
}

func TestGetPaymentErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient("shop", "secret").WithBaseURL(srv.URL).GetPayment(context.Background(), "missing")
	assert.Error(t, err)

	_, err = NewClient("", "").GetPayment(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
