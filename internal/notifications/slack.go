package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// SyncFailure describes a sync job that exhausted its retries
type SyncFailure struct {
	JobID      string
	Queue      string
	Action     string
	TenantID   string
	CustomerID string
	TrackingID string
	Attempts   int
	Error      string
}

// Alerter reports sync jobs that gave up
type Alerter interface {
	SyncJobExhausted(ctx context.Context, failure SyncFailure) error
}

// NoopAlerter is used when no webhook is configured
type NoopAlerter struct{}

func (NoopAlerter) SyncJobExhausted(context.Context, SyncFailure) error { return nil }

// SlackAlerter posts alerts to an incoming webhook
type SlackAlerter struct {
	webhookURL string
	appURL     string
	post       func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackAlerter returns a NoopAlerter when webhookURL is empty
func NewSlackAlerter(webhookURL, appURL string) Alerter {
	if webhookURL == "" {
		return NoopAlerter{}
	}
	if appURL == "" {
		appURL = "https://app.oneclicktag.com"
	}
	return &SlackAlerter{
		webhookURL: webhookURL,
		appURL:     strings.TrimRight(appURL, "/"),
		post:       slack.PostWebhookContext,
	}
}

func (a *SlackAlerter) SyncJobExhausted(ctx context.Context, failure SyncFailure) error {
	msg := &slack.WebhookMessage{
		Text:   fmt.Sprintf("Sync job %s failed after %d attempts: %s", failure.JobID, failure.Attempts, failure.Error),
		Blocks: &slack.Blocks{BlockSet: a.buildMessageBlocks(failure)},
	}

	if err := a.post(ctx, a.webhookURL, msg); err != nil {
		log.Warn().Err(err).Str("job_id", failure.JobID).Msg("Failed to send Slack alert")
		return fmt.Errorf("failed to post Slack webhook: %w", err)
	}
	return nil
}

func (a *SlackAlerter) buildMessageBlocks(failure SyncFailure) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf(":x: *%s %s sync gave up after %d attempts*", failure.Queue, failure.Action, failure.Attempts),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if failure.Error != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", "```"+failure.Error+"```", false, false),
			nil,
			nil,
		))
	}

	if failure.TrackingID != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("<%s/customers/%s/trackings/%s|View tracking>", a.appURL, failure.CustomerID, failure.TrackingID),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	return blocks
}
