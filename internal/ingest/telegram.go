// Package ingest pulls raw messages out of monitored Telegram channels and
// stores them for the extraction pipeline.
package ingest

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/events"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/extractor"
)

// MessageStore is the persistence the poller needs
type MessageStore interface {
	ListChannels(ctx context.Context) ([]*database.Channel, error)
	CreateMessage(ctx context.Context, msg *extractor.Message) error
}

// Poller consumes channel posts from the Telegram bot API. The bot must be
// an admin of every monitored channel to receive its posts.
type Poller struct {
	bot     *tgbotapi.BotAPI
	store   MessageStore
	bus     *events.Bus
	log     zerolog.Logger
	timeout int
}

// NewPoller creates a Telegram channel poller
func NewPoller(token string, store MessageStore, bus *events.Bus, logger zerolog.Logger) (*Poller, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	return &Poller{
		bot:     bot,
		store:   store,
		bus:     bus,
		log:     logger.With().Str("component", "ingest").Logger(),
		timeout: 30,
	}, nil
}

// Run long-polls Telegram until the context is canceled. Channel posts from
// channels that are not registered and active are dropped.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info().Str("bot", p.bot.Self.UserName).Msg("telegram poller started")

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = p.timeout
	updateConfig.AllowedUpdates = []string{"channel_post"}

	updates := p.bot.GetUpdatesChan(updateConfig)

	for {
		select {
		case <-ctx.Done():
			p.bot.StopReceivingUpdates()
			p.log.Info().Msg("telegram poller stopped")
			return
		case update := <-updates:
			if update.ChannelPost == nil {
				continue
			}
			p.handlePost(ctx, update.ChannelPost)
		}
	}
}

func (p *Poller) handlePost(ctx context.Context, post *tgbotapi.Message) {
	channel, ok := p.lookupChannel(ctx, post.Chat.ID)
	if !ok {
		return
	}

	text := post.Text
	if text == "" {
		text = post.Caption
	}
	if text == "" {
		return
	}

	msg := &extractor.Message{
		ChannelID:  channel.ID,
		Author:     authorOf(post),
		Text:       text,
		ReceivedAt: time.Unix(int64(post.Date), 0).UTC(),
		ParseState: extractor.StateUnparsed,
	}

	if err := p.store.CreateMessage(ctx, msg); err != nil {
		p.log.Error().Err(err).Int64("channel_id", channel.ID).Msg("storing message failed")
		return
	}

	p.bus.Publish(events.Event{
		Type: events.EventMessageReceived,
		Data: map[string]any{
			"message_id": msg.ID,
			"channel_id": channel.ID,
		},
	})
	p.log.Debug().Int64("message_id", msg.ID).Str("channel", channel.Name).Msg("message stored")
}

// lookupChannel matches a Telegram chat to a registered active channel
func (p *Poller) lookupChannel(ctx context.Context, chatID int64) (*database.Channel, bool) {
	channels, err := p.store.ListChannels(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("listing channels failed")
		return nil, false
	}

	external := strconv.FormatInt(chatID, 10)
	for _, ch := range channels {
		if ch.Source == "telegram" && ch.ExternalID == external && ch.IsActive {
			return ch, true
		}
	}
	return nil, false
}

// authorOf extracts the best available author identity from a channel post.
// Channel posts usually hide the author, leaving attribution to in-text
// author tags handled by the extractor.
func authorOf(post *tgbotapi.Message) string {
	if post.From != nil && post.From.UserName != "" {
		return post.From.UserName
	}
	if post.AuthorSignature != "" {
		return post.AuthorSignature
	}
	return ""
}
