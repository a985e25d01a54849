// Package discord provides the Discord bot: gateway session, slash
// commands, message reactions and the notification targets used by the
// daily bulletin.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/user/sunbot/internal/storage"
	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/pkg/logger"
)

// Options configures the bot.
type Options struct {
	Token   string
	GuildID string // register commands on this guild only; empty means global
	Debug   bool

	AppleHeadGIF string // gif sent on the third "tête de pomme"; empty sends the embed alone
}

// Bot represents the Discord bot.
type Bot struct {
	session  *discordgo.Session
	handlers *Handlers
	guildID  string
}

// NewBot creates a bot session. The gateway is not opened until Start; the
// resolvers work before that since they only use the REST API.
func NewBot(opts Options, registry *subscription.Registry, prefs *storage.PreferenceStore, wx WeatherClient) (*Bot, error) {
	session, err := discordgo.New("Bot " + opts.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	if opts.Debug {
		session.LogLevel = discordgo.LogDebug
	}

	handlers := NewHandlers(session, registry, prefs, wx)
	handlers.appleHeadGIF = opts.AppleHeadGIF

	b := &Bot{
		session:  session,
		handlers: handlers,
		guildID:  opts.GuildID,
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logger.Info().Str("username", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Discord bot connected")
	})
	session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.handlers.HandleInteraction(i.Interaction)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.handlers.HandleMessage(m.Message)
	})
	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		b.handlers.HandleGuild(g.Guild)
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		b.handlers.HandleMemberAdd(m.Member)
	})

	return b, nil
}

// UserResolver resolves stored user IDs to private message targets.
func (b *Bot) UserResolver() subscription.Resolver {
	return UserResolver(b.session)
}

// ChannelResolver resolves stored channel IDs to channel targets.
func (b *Bot) ChannelResolver() subscription.Resolver {
	return ChannelResolver(b.session)
}

// Start opens the gateway and registers the slash commands.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}

	if b.session.State == nil || b.session.State.User == nil {
		return fmt.Errorf("no valid user in session")
	}

	cmds, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, Commands())
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	logger.Info().Int("commands", len(cmds)).Str("guild_id", b.guildID).Msg("Discord bot started")
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	logger.Info().Msg("Stopping Discord bot")
	return b.session.Close()
}
