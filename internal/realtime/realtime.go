// Package realtime broadcasts sync and scan progress over Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Event types
const (
	EventJobProcessing  = "job_processing"
	EventJobCompleted   = "job_completed"
	EventJobFailed      = "job_failed"
	EventBatchPaused    = "batch_paused"
	EventBatchResumed   = "batch_resumed"
	EventBatchCompleted = "batch_completed"
	EventHealthChecked  = "health_checked"
	EventScanProgress   = "scan_progress"
	EventScanCompleted  = "scan_completed"
)

const (
	channelPrefix     = "oneclicktag:"
	connectionTimeout = 2 * time.Second
)

// Event is one progress message. It is delivered on the customer channel and,
// when BatchID is set, on the batch channel too.
type Event struct {
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	BatchID    string    `json:"batch_id,omitempty"`
	TrackingID string    `json:"tracking_id,omitempty"`
	ScanID     string    `json:"scan_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Data       any       `json:"data,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CustomerChannel is the pub/sub channel for a customer's events
func CustomerChannel(customerID string) string {
	return channelPrefix + "customer:" + customerID
}

// BatchChannel is the pub/sub channel for one sync batch
func BatchChannel(batchID string) string {
	return channelPrefix + "batch:" + batchID
}

// Publisher pushes events to connected clients
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NewClient parses a redis:// URL and verifies the connection
func NewClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisPublisher publishes JSON events with PUBLISH
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channels := []string{CustomerChannel(event.CustomerID)}
	if event.BatchID != "" {
		channels = append(channels, BatchChannel(event.BatchID))
	}

	for _, channel := range channels {
		if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", channel, err)
		}
	}
	return nil
}

// NoopPublisher drops events; used when Redis is not configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// PublishQuietly sends an event and logs instead of returning failures.
// Progress events never decide the outcome of the work they describe.
func PublishQuietly(ctx context.Context, p Publisher, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("event", event.Type).
			Str("customer_id", event.CustomerID).
			Msg("Failed to publish realtime event")
	}
}

// Subscriber streams events from a channel
type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe returns decoded events from channel until ctx is done or cleanup is called.
// Malformed messages are skipped.
func (s *Subscriber) Subscribe(ctx context.Context, channel string) (<-chan Event, func(), error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no event published after return is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	events := make(chan Event, 16)
	done := make(chan struct{})

	go func() {
		defer close(events)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Debug().Err(err).Str("channel", channel).Msg("Skipping malformed realtime message")
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var closed bool
	cleanup := func() {
		if closed {
			return
		}
		closed = true
		close(done)
		pubsub.Close()
	}
	return events, cleanup, nil
}
