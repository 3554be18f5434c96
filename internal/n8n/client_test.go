package n8n

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerPostsRun(t *testing.T) {
	var got Trigger
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewClient(time.Second).Trigger(context.Background(), srv.URL, Trigger{
		RunID:        7,
		AccountID:    3,
		WorkflowSlug: "product-shots",
		Secret:       "s3cret",
		CallbackURL:  "https://app/api/n8n/callback",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.RunID)
	assert.Equal(t, "product-shots", got.WorkflowSlug)
	assert.Equal(t, "s3cret", got.Secret)
	assert.JSONEq(t, `{}`, string(got.Inputs))
}

func TestTriggerNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow inactive", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(time.Second).Trigger(context.Background(), srv.URL, Trigger{RunID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
