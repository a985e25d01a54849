package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/user/sunbot/internal/subscription"
)

// Session is the subset of *discordgo.Session the bot relies on.
type Session interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	return id, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func messageFor(text string, attachment *subscription.Attachment) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{Content: text}
	if attachment != nil {
		msg.Files = []*discordgo.File{{
			Name:        attachment.Name,
			ContentType: attachment.ContentType,
			Reader:      attachment.Reader,
		}}
	}
	return msg
}

// ChannelTarget delivers to a guild text channel.
type ChannelTarget struct {
	session   Session
	channelID int64
}

// NewChannelTarget creates a target posting in channelID.
func NewChannelTarget(s Session, channelID int64) *ChannelTarget {
	return &ChannelTarget{session: s, channelID: channelID}
}

// EntityID returns the channel ID.
func (t *ChannelTarget) EntityID() int64 { return t.channelID }

// Send posts text and the optional attachment in the channel.
func (t *ChannelTarget) Send(ctx context.Context, text string, attachment *subscription.Attachment) error {
	_, err := t.session.ChannelMessageSendComplex(formatID(t.channelID), messageFor(text, attachment), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send to channel %d: %w", t.channelID, err)
	}
	return nil
}

// UserTarget delivers in private messages.
type UserTarget struct {
	session Session
	userID  int64
}

// NewUserTarget creates a target sending private messages to userID.
func NewUserTarget(s Session, userID int64) *UserTarget {
	return &UserTarget{session: s, userID: userID}
}

// EntityID returns the user ID.
func (t *UserTarget) EntityID() int64 { return t.userID }

// Send opens the DM channel and posts text and the optional attachment.
func (t *UserTarget) Send(ctx context.Context, text string, attachment *subscription.Attachment) error {
	ch, err := t.session.UserChannelCreate(formatID(t.userID), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM with user %d: %w", t.userID, err)
	}
	if _, err := t.session.ChannelMessageSendComplex(ch.ID, messageFor(text, attachment), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to user %d: %w", t.userID, err)
	}
	return nil
}

// ChannelResolver maps a stored channel ID to a live target.
func ChannelResolver(s Session) subscription.Resolver {
	return func(ctx context.Context, id int64) (subscription.Target, error) {
		if _, err := s.Channel(formatID(id), discordgo.WithContext(ctx)); err != nil {
			return nil, resolveError("channel", id, err)
		}
		return NewChannelTarget(s, id), nil
	}
}

// UserResolver maps a stored user ID to a live target.
func UserResolver(s Session) subscription.Resolver {
	return func(ctx context.Context, id int64) (subscription.Target, error) {
		if _, err := s.User(formatID(id), discordgo.WithContext(ctx)); err != nil {
			return nil, resolveError("user", id, err)
		}
		return NewUserTarget(s, id), nil
	}
}

func resolveError(what string, id int64, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil &&
		(restErr.Response.StatusCode == http.StatusNotFound || restErr.Response.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%s %d: %w", what, id, subscription.ErrTargetNotFound)
	}
	return fmt.Errorf("resolve %s %d: %w", what, id, err)
}
