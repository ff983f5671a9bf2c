package orders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/pharmacy-portal/internal/expiry"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestTriggerSweep(t *testing.T) {
	var gotAuth string
	var gotBody expiry.Options
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ExpirePath, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		found := 2
		json.NewEncoder(w).Encode(expiry.Result{Found: &found, DryRun: true})
	}))
	defer server.Close()

	client := NewExpiryClient(server.URL, "tok", quietLogger())
	result, err := client.TriggerSweep(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.True(t, gotBody.DryRun)
	require.NotNil(t, result.Found)
	assert.Equal(t, 2, *result.Found)
}

func TestTriggerSweepBatchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(expiry.Result{Error: expiry.BatchFailureMessage, RequestID: "req-1"})
	}))
	defer server.Close()

	result, err := NewExpiryClient(server.URL, "tok", quietLogger()).TriggerSweep(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Equal(t, "req-1", result.RequestID)
}

func TestTriggerSweepRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewExpiryClient(server.URL, "tok", quietLogger()).TriggerSweep(context.Background(), false)
	assert.Error(t, err)
}
