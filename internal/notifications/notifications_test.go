package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanUseListen(t *testing.T) {
	tests := []struct {
		connStr string
		want    bool
	}{
		{"postgres://u@db.internal:5432/oneclicktag", true},
		{"postgres://u@aws-0-pooler.supabase.com:5432/db", false},
		{"postgres://u@host:6543/db", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanUseListen(tt.connStr), tt.connStr)
	}
}

func TestNewListenerRequiresCallback(t *testing.T) {
	assert.Nil(t, NewListener("postgres://x", "sync_jobs", nil))
	assert.NotNil(t, NewListener("postgres://x", "sync_jobs", func(string) {}))
}

func TestPollingFallbackWakes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wakes atomic.Int32
	StartWithFallback(ctx, "postgres://u@host:6543/db", "sync_jobs", 10*time.Millisecond, func(string) {
		wakes.Add(1)
	})

	assert.Eventually(t, func() bool { return wakes.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSlackAlerter(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alerter := NewSlackAlerter(srv.URL, "https://app.example/")
	err := alerter.SyncJobExhausted(context.Background(), SyncFailure{
		JobID:      "job-1",
		Queue:      "ads-sync",
		Action:     "create",
		CustomerID: "cust-1",
		TrackingID: "trk-1",
		Attempts:   5,
		Error:      "PERMISSION_DENIED",
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Contains(t, payload["text"], "failed after 5 attempts")
	blocks, ok := payload["blocks"].([]any)
	require.True(t, ok)
	assert.Len(t, blocks, 3)
	assert.Contains(t, string(body), "https://app.example/customers/cust-1/trackings/trk-1")
}

func TestSlackAlerterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackAlerter(srv.URL, "").SyncJobExhausted(context.Background(), SyncFailure{JobID: "job-1"})
	assert.Error(t, err)
}

func TestNewSlackAlerterWithoutWebhook(t *testing.T) {
	alerter := NewSlackAlerter("", "")
	assert.IsType(t, NoopAlerter{}, alerter)
	assert.NoError(t, alerter.SyncJobExhausted(context.Background(), SyncFailure{}))
}
