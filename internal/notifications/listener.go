package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	pingInterval     = 90 * time.Second
	reconnectBackoff = 5 * time.Second
)

// Listener wakes a consumer whenever PostgreSQL emits NOTIFY on a channel
type Listener struct {
	connStr string
	channel string
	wake    func(payload string)
}

// NewListener creates a listener for channel. Returns nil when wake is nil.
func NewListener(connStr, channel string, wake func(payload string)) *Listener {
	if wake == nil {
		log.Error().Str("channel", channel).Msg("Cannot create notification listener: wake callback is nil")
		return nil
	}
	return &Listener{connStr: connStr, channel: channel, wake: wake}
}

// Start listens until ctx is cancelled, reconnecting after failures
func (l *Listener) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("channel", l.channel).Msg("Notification listener stopped")
			return
		default:
			if err := l.listen(ctx); err != nil {
				log.Warn().Err(err).Str("channel", l.channel).Msg("Notification listener error, retrying in 5s")
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectBackoff):
					continue
				}
			}
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("Notification listener event error")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return err
	}

	log.Info().Str("channel", l.channel).Msg("Notification listener started (real-time mode)")

	// Anything queued while we were disconnected.
	l.wake("")

	for {
		select {
		case <-ctx.Done():
			return nil

		case notification := <-listener.Notify:
			if notification == nil {
				// Connection lost, reconnect
				return nil
			}
			log.Debug().
				Str("channel", notification.Channel).
				Str("payload", notification.Extra).
				Msg("Received notification")
			l.wake(notification.Extra)

		case <-time.After(pingInterval):
			if err := listener.Ping(); err != nil {
				return err
			}
		}
	}
}

// StartWithFallback listens on channel when the connection supports LISTEN and polls otherwise.
func StartWithFallback(ctx context.Context, connStr, channel string, pollInterval time.Duration, wake func(payload string)) {
	listener := NewListener(connStr, channel, wake)
	if listener == nil {
		return
	}

	if CanUseListen(connStr) {
		go listener.Start(ctx)
		return
	}

	log.Info().Str("channel", channel).Msg("Using polling mode for notifications (connection pooler detected)")
	go poll(ctx, pollInterval, wake)
}

// CanUseListen reports whether connStr points at a server that supports LISTEN/NOTIFY.
// Transaction-mode poolers do not.
func CanUseListen(connStr string) bool {
	if connStr == "" {
		return false
	}
	if strings.Contains(connStr, "pooler") {
		return false
	}
	// PgBouncer typically runs on port 6543
	if strings.Contains(connStr, ":6543") {
		return false
	}
	return true
}

func poll(ctx context.Context, interval time.Duration, wake func(payload string)) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wake("")
		}
	}
}
