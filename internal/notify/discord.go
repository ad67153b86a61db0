package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/boltonhq/bolton/internal/config"
	"github.com/bwmarrin/discordgo"
)

// discordSender abstracts the discordgo method we use, enabling test mocks.
type discordSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts job outcomes to a Discord channel.
type Discord struct {
	sender    discordSender
	channelID string
}

// NewDiscord creates a Discord notifier from config.
func NewDiscord(cfg config.DiscordConfig) (*Discord, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("notify: discord bot token is required")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord channel id is required")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &Discord{sender: session, channelID: cfg.ChannelID}, nil
}

// Announce posts the event as an embed.
func (d *Discord) Announce(ctx context.Context, ev Event) error {
	embed := &discordgo.MessageEmbed{
		Title:       Title(ev),
		Description: Body(ev),
		Color:       embedColor(ev),
	}
	if _, err := d.sender.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord send: %w", err)
	}
	return nil
}

// embedColor converts the hex color hint to Discord's integer form.
func embedColor(ev Event) int {
	hex := Color(ev)
	if len(hex) != 7 {
		return 0
	}
	v, err := strconv.ParseInt(hex[1:], 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
