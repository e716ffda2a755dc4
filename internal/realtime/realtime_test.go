package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, srv
}

func TestChannels(t *testing.T) {
	assert.Equal(t, "oneclicktag:customer:c1", CustomerChannel("c1"))
	assert.Equal(t, "oneclicktag:batch:b1", BatchChannel("b1"))
}

func TestNewClient(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewClient("redis://" + srv.Addr() + "/0")
	require.NoError(t, err)
	client.Close()

	_, err = NewClient("")
	assert.Error(t, err)

	_, err = NewClient("not a url")
	assert.Error(t, err)
}

func TestPublishAndSubscribe(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := NewSubscriber(client)
	customerEvents, cleanupCustomer, err := sub.Subscribe(ctx, CustomerChannel("cust-1"))
	require.NoError(t, err)
	defer cleanupCustomer()

	batchEvents, cleanupBatch, err := sub.Subscribe(ctx, BatchChannel("batch-1"))
	require.NoError(t, err)
	defer cleanupBatch()

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, Event{
		Type:       EventJobCompleted,
		CustomerID: "cust-1",
		BatchID:    "batch-1",
		TrackingID: "trk-1",
	}))

	for _, ch := range []<-chan Event{customerEvents, batchEvents} {
		select {
		case got := <-ch:
			assert.Equal(t, EventJobCompleted, got.Type)
			assert.Equal(t, "trk-1", got.TrackingID)
			assert.False(t, got.Timestamp.IsZero())
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSubscribeSkipsMalformedMessages(t *testing.T) {
	client, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, cleanup, err := NewSubscriber(client).Subscribe(ctx, CustomerChannel("cust-1"))
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, client.Publish(ctx, CustomerChannel("cust-1"), "not json").Err())
	valid, _ := json.Marshal(Event{Type: EventScanProgress, CustomerID: "cust-1", ScanID: "scan-1"})
	require.NoError(t, client.Publish(ctx, CustomerChannel("cust-1"), valid).Err())

	select {
	case got := <-events:
		assert.Equal(t, EventScanProgress, got.Type)
		assert.Equal(t, "scan-1", got.ScanID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestCleanupClosesStream(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	events, cleanup, err := NewSubscriber(client).Subscribe(ctx, CustomerChannel("cust-1"))
	require.NoError(t, err)
	cleanup()
	cleanup()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cleanup")
	}
}

func TestPublishQuietly(t *testing.T) {
	client, srv := newTestClient(t)
	srv.Close()

	assert.NotPanics(t, func() {
		PublishQuietly(context.Background(), NewRedisPublisher(client), Event{Type: EventJobFailed, CustomerID: "c"})
		PublishQuietly(context.Background(), nil, Event{Type: EventJobFailed})
		PublishQuietly(context.Background(), NoopPublisher{}, Event{Type: EventJobFailed})
	})
}
