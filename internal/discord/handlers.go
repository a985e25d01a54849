package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/user/sunbot/internal/storage"
	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/internal/weather"
	"github.com/user/sunbot/pkg/logger"
)

// WeatherClient is the weather lookup used by the commands.
type WeatherClient interface {
	DailyWeather(ctx context.Context, location string) (*weather.DailyForecast, error)
	CurrentWeather(ctx context.Context, location string) (*weather.CurrentWeather, error)
}

// Handlers manages slash commands and message events.
type Handlers struct {
	session  Session
	registry *subscription.Registry
	prefs    *storage.PreferenceStore
	weather  WeatherClient

	timeout time.Duration
	roll    func() float64

	appleHeadGIF string
	mu           sync.Mutex
	appleHead    map[int64]int // consecutive invocations per guild
}

// NewHandlers creates a new handlers instance.
func NewHandlers(s Session, registry *subscription.Registry, prefs *storage.PreferenceStore, wx WeatherClient) *Handlers {
	return &Handlers{
		session:  s,
		registry: registry,
		prefs:    prefs,
		weather:  wx,
		timeout:   30 * time.Second,
		roll:      rand.Float64,
		appleHead: make(map[int64]int),
	}
}

// reply is the answer to one command.
type reply struct {
	content string
}

func textReply(format string, args ...interface{}) reply {
	return reply{content: fmt.Sprintf(format, args...)}
}

// HandleInteraction routes slash commands to the appropriate handler.
func (h *Handlers) HandleInteraction(i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	user := interactionUser(i)
	if user == nil {
		return
	}

	logger.Debug().
		Str("command", data.Name).
		Str("user_id", user.ID).
		Str("guild_id", i.GuildID).
		Msg("Received command")

	if data.Name == cmdPing {
		h.respond(i, reply{content: "Pong !"})
		return
	}

	// Weather lookups may exceed the interaction deadline, answer later.
	err := h.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		logger.Error().Err(err).Str("command", data.Name).Msg("Failed to defer interaction")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	userID, err := parseID(user.ID)
	if err != nil {
		h.edit(i, textReply("Identifiant utilisateur invalide 😢"))
		return
	}
	opts := optionMap(data.Options)

	var r reply
	switch data.Name {
	case cmdMeteo:
		r = h.handleMeteo(ctx, userID, opts)
	case cmdPluie:
		r = h.handlePluie(ctx, userID, opts)
	case cmdDailyChannel:
		r = h.handleDailyChannel(ctx, i, opts)
	case cmdDailyPM:
		r = h.handleDailyPM(ctx, userID, opts)
	case cmdFavori:
		r = h.handleFavori(userID, opts)
	case cmdEmoji:
		r = h.handleEmoji(userID, opts)
	case cmdFun:
		r = h.handleFun(i, opts)
	case cmdAbonnements:
		r = h.handleAbonnements(i, userID)
	default:
		r = textReply("Commande inconnue.")
	}
	h.edit(i, r)
}

// HandleMessage reacts to a message with the author's emoji and answers the
// running jokes, in guilds that enabled it.
func (h *Handlers) HandleMessage(m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	guildID, err := parseID(m.GuildID)
	if err != nil {
		return
	}
	guild, err := h.prefs.GetGuild(guildID)
	if err != nil || !guild.Fun {
		return
	}

	h.react(m)
	h.funReply(guildID, m)
}

func (h *Handlers) react(m *discordgo.Message) {
	userID, err := parseID(m.Author.ID)
	if err != nil {
		return
	}
	user, err := h.prefs.GetUser(userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to load user")
		}
		return
	}
	if user.Emoji == "" || h.roll() > user.EmojiFreq {
		return
	}

	if err := h.session.MessageReactionAdd(m.ChannelID, m.ID, user.Emoji); err != nil {
		logger.Warn().Err(err).Int64("user_id", userID).Str("emoji", user.Emoji).Msg("Failed to add reaction")
	}
}

var appleHeadPhrases = map[string]bool{
	"tête de pomme": true,
	"tete de pomme": true,
	"#tetedepomme":  true,
}

func (h *Handlers) funReply(guildID int64, m *discordgo.Message) {
	text := strings.ToLower(strings.TrimSpace(m.Content))

	if appleHeadPhrases[text] {
		if h.countAppleHead(guildID) {
			logger.Info().Int64("guild_id", guildID).Msg("Apple head invoked")
			h.sendAppleHead(m.ChannelID)
		}
		return
	}
	h.resetAppleHead(guildID)

	var msg *discordgo.MessageSend
	switch {
	case strings.Contains(text, "me foutre au sol") && h.roll() > 0.5:
		msg = &discordgo.MessageSend{
			Content:   "Tu sais, il y a des gens qui disaient ça et qui ont fini ingénieurs chez Boeing. Donc tu as du potentiel 🌞 !",
			Reference: m.Reference(),
		}
	case text == "sinus":
		msg = &discordgo.MessageSend{Content: "Tangente"}
	default:
		return
	}
	if _, err := h.session.ChannelMessageSendComplex(m.ChannelID, msg); err != nil {
		logger.Warn().Err(err).Str("channel_id", m.ChannelID).Msg("Failed to answer message")
	}
}

// countAppleHead records one invocation and reports whether it was the third
// in a row, restarting the count when it was.
func (h *Handlers) countAppleHead(guildID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appleHead[guildID]++
	if h.appleHead[guildID] < 3 {
		return false
	}
	h.appleHead[guildID] = 0
	return true
}

func (h *Handlers) resetAppleHead(guildID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.appleHead, guildID)
}

func (h *Handlers) sendAppleHead(channelID string) {
	embed := &discordgo.MessageEmbed{Title: "Et tu savais qu'à Jean Jaurès", Color: 0xff0000}
	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}

	if h.appleHeadGIF != "" {
		data, err := os.ReadFile(h.appleHeadGIF)
		if err != nil {
			logger.Warn().Err(err).Str("path", h.appleHeadGIF).Msg("Failed to read apple head gif")
		} else {
			name := filepath.Base(h.appleHeadGIF)
			embed.Image = &discordgo.MessageEmbedImage{URL: "attachment://" + name}
			msg.Files = []*discordgo.File{{Name: name, ContentType: "image/gif", Reader: bytes.NewReader(data)}}
		}
	}

	if _, err := h.session.ChannelMessageSendComplex(channelID, msg); err != nil {
		logger.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to send apple head")
	}
}

// HandleMemberAdd records a new guild member and welcomes them on the
// system channel, or on the first text channel when the guild has none.
func (h *Handlers) HandleMemberAdd(m *discordgo.Member) {
	if m.User == nil || m.User.Bot {
		return
	}
	userID, err := parseID(m.User.ID)
	if err != nil {
		return
	}
	logger.Info().Str("user", m.User.Username).Str("guild_id", m.GuildID).Msg("Member joined")

	if _, err := h.prefs.EnsureUser(userID); err != nil {
		logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to register member")
	}

	channelID := h.welcomeChannel(m.GuildID)
	if channelID == "" {
		logger.Warn().Str("guild_id", m.GuildID).Msg("No channel to welcome member")
		return
	}
	msg := &discordgo.MessageSend{
		Content: fmt.Sprintf("Bienvenue sur le serveur %s ! Je suis SunBot, bot spécialiste de la météo (ou pas) ! Tape / pour découvrir mes commandes !", m.User.Mention()),
	}
	if _, err := h.session.ChannelMessageSendComplex(channelID, msg); err != nil {
		logger.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to welcome member")
	}
}

func (h *Handlers) welcomeChannel(guildID string) string {
	g, err := h.session.Guild(guildID)
	if err == nil && g.SystemChannelID != "" {
		return g.SystemChannelID
	}
	logger.Warn().Str("guild_id", guildID).Msg("No system channel, falling back to the first text channel")

	channels, err := h.session.GuildChannels(guildID)
	if err != nil {
		logger.Error().Err(err).Str("guild_id", guildID).Msg("Failed to list guild channels")
		return ""
	}
	var first *discordgo.Channel
	for _, c := range channels {
		if c.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if first == nil || c.Position < first.Position {
			first = c
		}
	}
	if first == nil {
		return ""
	}
	return first.ID
}

// HandleGuild records a guild the bot is present in.
func (h *Handlers) HandleGuild(g *discordgo.Guild) {
	id, err := parseID(g.ID)
	if err != nil {
		return
	}
	if _, err := h.prefs.EnsureGuild(id, g.Name); err != nil {
		logger.Error().Err(err).Int64("guild_id", id).Msg("Failed to track guild")
	}
}

func (h *Handlers) handleMeteo(ctx context.Context, userID int64, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	location, err := h.locationOrFavorite(userID, opts)
	if err != nil {
		return textReply("Impossible de retrouver votre lieu favori 😢")
	}

	cur, err := h.weather.CurrentWeather(ctx, location)
	if err != nil {
		return h.weatherError(err, location)
	}
	return textReply("%s", weather.FormatCurrent(location, cur))
}

func (h *Handlers) handlePluie(ctx context.Context, userID int64, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	location, err := h.locationOrFavorite(userID, opts)
	if err != nil {
		return textReply("Impossible de retrouver votre lieu favori 😢")
	}

	f, err := h.weather.DailyWeather(ctx, location)
	if err != nil {
		return h.weatherError(err, location)
	}
	return textReply("%s", weather.FormatRain(location, f))
}

// handleDailyChannel toggles the daily bulletin of a guild for a location:
// the same channel unsubscribes, another channel takes over, a new location
// is validated against the weather API first.
func (h *Handlers) handleDailyChannel(ctx context.Context, i *discordgo.Interaction, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	if i.GuildID == "" {
		return textReply("Cette commande n'est utilisable que sur un serveur.")
	}
	location := stringOption(opts, "lieu")
	if location == "" {
		return textReply("Indiquez une localisation.")
	}
	guildID, err := parseID(i.GuildID)
	if err != nil {
		return textReply("Identifiant de serveur invalide 😢")
	}
	channelID, err := parseID(i.ChannelID)
	if err != nil {
		return textReply("Identifiant de salon invalide 😢")
	}

	current, err := h.registry.GetTarget(subscription.Guild, guildID, location)
	switch {
	case err == nil && current.EntityID() == channelID:
		if _, err := h.registry.Remove(subscription.Guild, guildID, location); err != nil {
			return h.internalError(err)
		}
		h.save(ctx)
		return textReply("Bien compris, je n'enverrai plus la météo quotidienne pour %s 😀", location)
	case err == nil:
		err := h.registry.Replace(subscription.Guild, guildID, NewChannelTarget(h.session, channelID), location)
		if err == nil {
			h.save(ctx)
			return textReply("Ok, j'enverrai désormais la météo quotidienne pour %s ici à la place du salon précédent !", location)
		}
		if !errors.Is(err, subscription.ErrNotSubscribed) {
			return h.internalError(err)
		}
		// Unsubscribed in the meantime: subscribe afresh.
	case !errors.Is(err, subscription.ErrNotSubscribed):
		return h.internalError(err)
	}

	tz, r, ok := h.validateLocation(ctx, location)
	if !ok {
		return r
	}
	if err := h.registry.Add(subscription.Guild, guildID, NewChannelTarget(h.session, channelID), location, tz); err != nil {
		return h.internalError(err)
	}
	h.save(ctx)
	return textReply("C'est compris, j'enverrai désormais quotidiennement la météo du jour pour %s ici 😉", location)
}

// handleDailyPM toggles the daily bulletin in private messages.
func (h *Handlers) handleDailyPM(ctx context.Context, userID int64, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	location := stringOption(opts, "lieu")
	if location == "" {
		return textReply("Indiquez une localisation.")
	}

	subscribed, err := h.registry.IsSubscribed(subscription.User, userID, location)
	if err != nil {
		return h.internalError(err)
	}
	if subscribed {
		if _, err := h.registry.Remove(subscription.User, userID, location); err != nil {
			return h.internalError(err)
		}
		h.save(ctx)
		return textReply("C'est entendu, je ne vous enverrai plus la météo quotidienne pour %s", location)
	}

	tz, r, ok := h.validateLocation(ctx, location)
	if !ok {
		return r
	}
	if err := h.registry.Add(subscription.User, userID, NewUserTarget(h.session, userID), location, tz); err != nil {
		return h.internalError(err)
	}
	h.save(ctx)
	if err := h.prefs.SetPrivateMessages(userID, true); err != nil {
		logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to record private message consent")
	}
	return textReply("Super ! Je vous enverrai désormais la météo pour %s chaque jour en message privé !", location)
}

func (h *Handlers) handleFavori(userID int64, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	location := stringOption(opts, "lieu")
	if location == "" {
		return textReply("Indiquez une localisation.")
	}
	if err := h.prefs.SetFavLocation(userID, location); err != nil {
		return h.internalError(err)
	}
	return textReply("C'est noté, %s est désormais votre lieu favori !", location)
}

func (h *Handlers) handleEmoji(userID int64, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	emoji := stringOption(opts, "emoji")
	freq := 0.5
	if o, ok := opts["frequence"]; ok {
		freq = o.FloatValue()
	}

	if err := h.prefs.SetEmoji(userID, emoji, freq); err != nil {
		logger.Warn().Err(err).Int64("user_id", userID).Msg("Rejected emoji settings")
		return textReply("La fréquence doit être comprise entre 0 et 1.")
	}
	if emoji == "" {
		return textReply("Je ne réagirai plus à vos messages.")
	}
	return textReply("C'est noté, je réagirai à vos messages avec %s (%.0f%% du temps) !", emoji, freq*100)
}

func (h *Handlers) handleFun(i *discordgo.Interaction, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) reply {
	if i.GuildID == "" {
		return textReply("Cette commande n'est utilisable que sur un serveur.")
	}
	guildID, err := parseID(i.GuildID)
	if err != nil {
		return textReply("Identifiant de serveur invalide 😢")
	}

	enabled := false
	if o, ok := opts["actif"]; ok {
		enabled = o.BoolValue()
	}
	if err := h.prefs.SetFun(guildID, enabled); err != nil {
		return h.internalError(err)
	}
	if enabled {
		return textReply("Les réactions sont activées sur ce serveur 🎉")
	}
	return textReply("Les réactions sont désactivées sur ce serveur.")
}

func (h *Handlers) handleAbonnements(i *discordgo.Interaction, userID int64) reply {
	var b strings.Builder

	userLocs, err := h.registry.LocationsOf(subscription.User, userID)
	if err != nil {
		return h.internalError(err)
	}
	writeLocations(&b, "En message privé", userLocs)

	if i.GuildID != "" {
		if guildID, err := parseID(i.GuildID); err == nil {
			guildLocs, err := h.registry.LocationsOf(subscription.Guild, guildID)
			if err != nil {
				return h.internalError(err)
			}
			writeLocations(&b, "Sur ce serveur", guildLocs)
		}
	}
	return reply{content: b.String()}
}

func writeLocations(b *strings.Builder, title string, locs []subscription.Location) {
	if len(locs) == 0 {
		fmt.Fprintf(b, "%s : aucun abonnement\n", title)
		return
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Name() < locs[j].Name() })
	fmt.Fprintf(b, "%s :\n", title)
	for _, loc := range locs {
		fmt.Fprintf(b, "• %s\n", loc.Name())
	}
}

// validateLocation checks that the weather API knows location and returns
// its timezone.
func (h *Handlers) validateLocation(ctx context.Context, location string) (string, reply, bool) {
	f, err := h.weather.DailyWeather(ctx, location)
	if err != nil {
		return "", h.weatherError(err, location), false
	}
	return f.Timezone, reply{}, true
}

func (h *Handlers) locationOrFavorite(userID int64, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) (string, error) {
	if location := stringOption(opts, "lieu"); location != "" {
		return location, nil
	}
	u, err := h.prefs.EnsureUser(userID)
	if err != nil {
		logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to load user")
		return "", err
	}
	return u.FavLocation, nil
}

func (h *Handlers) weatherError(err error, location string) reply {
	if errors.Is(err, weather.ErrLocationNotFound) {
		return textReply("Je n'ai pas %s dans mes données, vérifiez le nom !", location)
	}
	logger.Error().Err(err).Str("location", location).Msg("Weather request failed")
	return textReply("Humm, quelque chose s'est mal passé en récupérant la météo pour %s 😢", location)
}

func (h *Handlers) internalError(err error) reply {
	logger.Error().Err(err).Msg("Command failed")
	return textReply("Une erreur est survenue, réessayez plus tard 😢")
}

func (h *Handlers) save(ctx context.Context) {
	if err := h.registry.Save(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to save subscriptions")
	}
}

func (h *Handlers) respond(i *discordgo.Interaction, r reply) {
	err := h.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: r.content},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to respond to interaction")
	}
}

func (h *Handlers) edit(i *discordgo.Interaction, r reply) {
	content := r.content
	if _, err := h.session.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}); err != nil {
		logger.Error().Err(err).Msg("Failed to edit interaction response")
	}
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, o := range options {
		m[o.Name] = o
	}
	return m
}

func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if o, ok := opts[name]; ok {
		return strings.TrimSpace(o.StringValue())
	}
	return ""
}
