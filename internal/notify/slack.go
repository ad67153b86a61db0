package notify

import (
	"context"
	"fmt"

	"github.com/boltonhq/bolton/internal/config"
	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts job outcomes to a Slack channel.
type Slack struct {
	client  slackClient
	channel string
}

// NewSlack creates a Slack notifier from config.
func NewSlack(cfg config.SlackConfig) (*Slack, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("notify: slack bot token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("notify: slack channel is required")
	}
	return &Slack{client: slackapi.New(cfg.BotToken), channel: cfg.Channel}, nil
}

// Announce posts the event as an attachment message.
func (s *Slack) Announce(ctx context.Context, ev Event) error {
	attachment := slackapi.Attachment{
		Color: Color(ev),
		Title: Title(ev),
		Text:  Body(ev),
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
