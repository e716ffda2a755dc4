package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
)

func TestCustomerEventsUnavailableWithoutRedis(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(http.MethodGet, "/v1/customers/cust-1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCustomerEventsUnknownCustomer(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.h.Events = realtime.NewSubscriber(redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()}))
	env.customers.On("GetCustomer", mock.Anything, testTenant, "cust-9").Return(nil, domain.ErrNotFound)

	rec := env.do(http.MethodGet, "/v1/customers/cust-9/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// readLine returns the next non-empty line of the stream
func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimRight(line, "\n"); line != "" {
			return line
		}
	}
}

func TestCustomerEventsStream(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, Config{})
	env.h.Events = realtime.NewSubscriber(client)
	env.customers.On("GetCustomer", mock.Anything, testTenant, "cust-1").Return(&domain.Customer{ID: "cust-1"}, nil)

	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/customers/cust-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	// The subscription is confirmed before the first comment is written
	assert.Equal(t, ": connected", readLine(t, reader))

	publisher := realtime.NewRedisPublisher(client)
	require.NoError(t, publisher.Publish(ctx, realtime.Event{
		Type:       realtime.EventJobCompleted,
		CustomerID: "cust-1",
		TrackingID: "trk-1",
	}))
	// Other customers' events stay on their own channel
	require.NoError(t, publisher.Publish(ctx, realtime.Event{Type: realtime.EventJobFailed, CustomerID: "cust-2"}))
	require.NoError(t, publisher.Publish(ctx, realtime.Event{Type: realtime.EventBatchCompleted, CustomerID: "cust-1", BatchID: "batch-1"}))

	assert.Equal(t, "event: job_completed", readLine(t, reader))
	data := readLine(t, reader)
	require.True(t, strings.HasPrefix(data, "data: "), data)

	var ev realtime.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &ev))
	assert.Equal(t, "trk-1", ev.TrackingID)
	assert.Equal(t, "cust-1", ev.CustomerID)

	assert.Equal(t, "event: batch_completed", readLine(t, reader))
}

func TestCustomerEventsHeartbeat(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { client.Close() })

	env := newTestEnv(t, Config{SSEHeartbeat: 20 * time.Millisecond})
	env.h.Events = realtime.NewSubscriber(client)
	env.customers.On("GetCustomer", mock.Anything, testTenant, "cust-1").Return(&domain.Customer{ID: "cust-1"}, nil)

	srv := httptest.NewServer(env.server)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/customers/cust-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, ": connected", readLine(t, reader))
	assert.Equal(t, ": ping", readLine(t, reader))
}
