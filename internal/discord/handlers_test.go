package discord

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/user/sunbot/internal/storage"
	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/internal/weather"
)

type sentMessage struct {
	channelID string
	content   string
	file      string
	embed     string
	replyTo   string
}

type fakeSession struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []string
	messages  []sentMessage
	reactions []string

	missing        map[string]bool // IDs answered with a 404
	systemChannels map[string]string
	channels       map[string][]*discordgo.Channel
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		missing:        make(map[string]bool),
		systemChannels: make(map[string]string),
		channels:       make(map[string][]*discordgo.Channel),
	}
}

func (f *fakeSession) notFound() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
}

func (f *fakeSession) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	if f.missing[userID] {
		return nil, f.notFound()
	}
	return &discordgo.User{ID: userID}, nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if f.missing[channelID] {
		return nil, f.notFound()
	}
	return &discordgo.Channel{ID: channelID}, nil
}

func (f *fakeSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if f.missing[guildID] {
		return nil, f.notFound()
	}
	return &discordgo.Guild{ID: guildID, SystemChannelID: f.systemChannels[guildID]}, nil
}

func (f *fakeSession) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels[guildID], nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := sentMessage{channelID: channelID, content: data.Content}
	if len(data.Files) > 0 {
		b, _ := io.ReadAll(data.Files[0].Reader)
		msg.file = string(b)
	}
	if len(data.Embeds) > 0 {
		msg.embed = data.Embeds[0].Title
	}
	if data.Reference != nil {
		msg.replyTo = data.Reference.MessageID
	}
	f.messages = append(f.messages, msg)
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (f *fakeSession) MessageReactionAdd(_, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, messageID+":"+emojiID)
	return nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, *edit.Content)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakeSession) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

type fakeWeather struct {
	mu    sync.Mutex
	calls int
}

func (w *fakeWeather) DailyWeather(_ context.Context, location string) (*weather.DailyForecast, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	if location == "Atlantis" {
		return nil, weather.ErrLocationNotFound
	}
	return &weather.DailyForecast{
		Address:  location,
		Timezone: "Europe/Paris",
		Day: weather.DayForecast{
			Hours: []weather.HourForecast{{Time: "15:00:00", PrecipProb: 60, Precip: 1.5, PrecipType: []string{"rain"}}},
		},
	}, nil
}

func (w *fakeWeather) CurrentWeather(_ context.Context, location string) (*weather.CurrentWeather, error) {
	if location == "Atlantis" {
		return nil, weather.ErrLocationNotFound
	}
	return &weather.CurrentWeather{Address: location, Conditions: weather.CurrentConditions{Temp: 18}}, nil
}

type fixture struct {
	registryFile string

	session  *fakeSession
	registry *subscription.Registry
	prefs    *storage.PreferenceStore
	weather  *fakeWeather
	handlers *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "sunbot.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	path := filepath.Join(t.TempDir(), "subs.json")
	f := &fixture{
		registryFile: path,
		session:      newFakeSession(),
		registry:     subscription.NewRegistry(subscription.NewFileStore(path)),
		prefs:        storage.NewPreferenceStore(db),
		weather:      &fakeWeather{},
	}
	f.handlers = NewHandlers(f.session, f.registry, f.prefs, f.weather)
	return f
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value}
}

func command(name, guildID, channelID, userID string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	i := &discordgo.Interaction{
		ID:        "1",
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   guildID,
		ChannelID: channelID,
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
	user := &discordgo.User{ID: userID}
	if guildID != "" {
		i.Member = &discordgo.Member{User: user}
	} else {
		i.User = user
	}
	return i
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	f.handlers.HandleInteraction(command(cmdPing, "", "5", "42"))

	if len(f.session.responses) != 1 || f.session.responses[0].Data.Content != "Pong !" {
		t.Fatalf("expected a pong, got %+v", f.session.responses)
	}
}

func TestDailyChannelToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// First call subscribes the channel.
	f.handlers.HandleInteraction(command(cmdDailyChannel, "100", "200", "42", stringOpt("lieu", "Toulouse")))
	target, err := f.registry.GetTarget(subscription.Guild, 100, "Toulouse")
	if err != nil || target.EntityID() != 200 {
		t.Fatalf("expected channel 200 to be subscribed, got %v (err %v)", target, err)
	}
	subs, _ := f.registry.ListSubscribers(subscription.Guild)
	for loc := range subs {
		if loc.TZ() != "Europe/Paris" {
			t.Fatalf("expected timezone from the weather API, got %q", loc.TZ())
		}
	}

	saved := subscription.NewRegistry(subscription.NewFileStore(f.registryFile))
	if err := saved.Load(ctx, UserResolver(f.session), ChannelResolver(f.session)); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if ok, _ := saved.IsSubscribed(subscription.Guild, 100, "Toulouse"); !ok {
		t.Fatal("expected subscription to be saved right away")
	}

	// Another channel replaces the target without a new lookup.
	f.handlers.HandleInteraction(command(cmdDailyChannel, "100", "300", "42", stringOpt("lieu", "Toulouse")))
	target, _ = f.registry.GetTarget(subscription.Guild, 100, "Toulouse")
	if target.EntityID() != 300 {
		t.Fatalf("expected channel 300, got %d", target.EntityID())
	}
	if f.weather.calls != 1 {
		t.Fatalf("expected a single weather lookup, got %d", f.weather.calls)
	}
	if !strings.Contains(f.session.lastEdit(), "à la place du salon précédent") {
		t.Fatalf("unexpected reply %q", f.session.lastEdit())
	}

	// The same channel unsubscribes.
	f.handlers.HandleInteraction(command(cmdDailyChannel, "100", "300", "42", stringOpt("lieu", "Toulouse")))
	if ok, _ := f.registry.IsSubscribed(subscription.Guild, 100, "Toulouse"); ok {
		t.Fatal("expected guild to be unsubscribed")
	}

	// The removal was saved too.
	reloaded := subscription.NewRegistry(subscription.NewFileStore(f.registryFile))
	if err := reloaded.Load(ctx, UserResolver(f.session), ChannelResolver(f.session)); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if counts := reloaded.Count(); counts[subscription.Guild].Subscriptions != 0 {
		t.Fatalf("expected saved registry to be empty, got %+v", counts)
	}
}

func TestDailyChannelUnknownLocation(t *testing.T) {
	f := newFixture(t)
	f.handlers.HandleInteraction(command(cmdDailyChannel, "100", "200", "42", stringOpt("lieu", "Atlantis")))

	if ok, _ := f.registry.IsSubscribed(subscription.Guild, 100, "Atlantis"); ok {
		t.Fatal("unknown location must not be subscribed")
	}
	if !strings.Contains(f.session.lastEdit(), "Je n'ai pas Atlantis") {
		t.Fatalf("unexpected reply %q", f.session.lastEdit())
	}
}

func TestDailyPMToggle(t *testing.T) {
	f := newFixture(t)

	f.handlers.HandleInteraction(command(cmdDailyPM, "", "9", "42", stringOpt("lieu", "Lyon")))
	target, err := f.registry.GetTarget(subscription.User, 42, "Lyon")
	if err != nil || target.EntityID() != 42 {
		t.Fatalf("expected user target, got %v (err %v)", target, err)
	}
	u, err := f.prefs.GetUser(42)
	if err != nil || !u.MP {
		t.Fatalf("expected private messages to be enabled, got %+v (err %v)", u, err)
	}

	// The target delivers through a DM channel.
	if err := target.Send(context.Background(), "bulletin", &subscription.Attachment{Name: "p.txt", Reader: strings.NewReader("table")}); err != nil {
		t.Fatalf("send: %v", err)
	}
	last := f.session.messages[len(f.session.messages)-1]
	if last.channelID != "dm-42" || last.file != "table" {
		t.Fatalf("unexpected message %+v", last)
	}

	f.handlers.HandleInteraction(command(cmdDailyPM, "", "9", "42", stringOpt("lieu", "Lyon")))
	if ok, _ := f.registry.IsSubscribed(subscription.User, 42, "Lyon"); ok {
		t.Fatal("expected second call to unsubscribe")
	}
}

func TestFavoriteLocationIsDefault(t *testing.T) {
	f := newFixture(t)

	f.handlers.HandleInteraction(command(cmdFavori, "", "9", "42", stringOpt("lieu", "Brest")))
	f.handlers.HandleInteraction(command(cmdPluie, "", "9", "42"))

	if !strings.Contains(f.session.lastEdit(), "Brest") {
		t.Fatalf("expected rain report for Brest, got %q", f.session.lastEdit())
	}
}

func TestAbonnements(t *testing.T) {
	f := newFixture(t)
	f.registry.Add(subscription.User, 42, NewUserTarget(f.session, 42), "Nice", "Europe/Paris")
	f.registry.Add(subscription.Guild, 100, NewChannelTarget(f.session, 200), "Pau", "Europe/Paris")

	f.handlers.HandleInteraction(command(cmdAbonnements, "100", "200", "42"))

	reply := f.session.lastEdit()
	if !strings.Contains(reply, "Nice") || !strings.Contains(reply, "Pau") {
		t.Fatalf("expected both subscriptions listed, got %q", reply)
	}
}

func TestReactions(t *testing.T) {
	f := newFixture(t)
	f.handlers.roll = func() float64 { return 0.1 }

	if err := f.prefs.SetEmoji(42, "🌞", 0.5); err != nil {
		t.Fatalf("set emoji: %v", err)
	}
	msg := &discordgo.Message{ID: "m1", ChannelID: "200", GuildID: "100", Author: &discordgo.User{ID: "42"}}

	// Guild without fun enabled.
	f.handlers.HandleMessage(msg)
	if len(f.session.reactions) != 0 {
		t.Fatal("expected no reaction without fun enabled")
	}

	if err := f.prefs.SetFun(100, true); err != nil {
		t.Fatalf("set fun: %v", err)
	}
	f.handlers.HandleMessage(msg)
	if len(f.session.reactions) != 1 || f.session.reactions[0] != "m1:🌞" {
		t.Fatalf("expected a reaction, got %v", f.session.reactions)
	}

	// Bots and unlucky rolls are ignored.
	f.handlers.HandleMessage(&discordgo.Message{ID: "m2", GuildID: "100", Author: &discordgo.User{ID: "42", Bot: true}})
	f.handlers.roll = func() float64 { return 0.9 }
	f.handlers.HandleMessage(msg)
	if len(f.session.reactions) != 1 {
		t.Fatalf("expected no further reaction, got %v", f.session.reactions)
	}
}

func TestAppleHead(t *testing.T) {
	f := newFixture(t)
	gif := filepath.Join(t.TempDir(), "tete_de_pomme.gif")
	if err := os.WriteFile(gif, []byte("GIF89a"), 0644); err != nil {
		t.Fatalf("write gif: %v", err)
	}
	f.handlers.appleHeadGIF = gif
	if err := f.prefs.SetFun(100, true); err != nil {
		t.Fatalf("set fun: %v", err)
	}

	say := func(id, content string) {
		f.handlers.HandleMessage(&discordgo.Message{ID: id, ChannelID: "200", GuildID: "100", Content: content, Author: &discordgo.User{ID: "42"}})
	}

	// An unrelated message breaks the streak.
	say("1", "Tête de pomme")
	say("2", "tete de pomme")
	say("3", "bonjour")
	say("4", "#tetedepomme")
	say("5", "tête de pomme")
	if n := len(f.session.sent()); n != 0 {
		t.Fatalf("expected no gif before three in a row, got %d messages", n)
	}

	say("6", "tête de pomme")
	sent := f.session.sent()
	if len(sent) != 1 {
		t.Fatalf("expected the gif on the third invocation, got %+v", sent)
	}
	if sent[0].channelID != "200" || sent[0].embed != "Et tu savais qu'à Jean Jaurès" || sent[0].file != "GIF89a" {
		t.Fatalf("unexpected message %+v", sent[0])
	}

	// The counter restarts after sending.
	say("7", "tête de pomme")
	say("8", "tête de pomme")
	if n := len(f.session.sent()); n != 1 {
		t.Fatalf("expected the counter to restart, got %d messages", n)
	}
}

func TestEasterEggs(t *testing.T) {
	f := newFixture(t)
	f.handlers.roll = func() float64 { return 0.9 }
	msg := func(id, content string) *discordgo.Message {
		return &discordgo.Message{ID: id, ChannelID: "200", GuildID: "100", Content: content, Author: &discordgo.User{ID: "42"}}
	}

	// Nothing happens outside fun guilds.
	f.handlers.HandleMessage(msg("1", "sinus"))
	if n := len(f.session.sent()); n != 0 {
		t.Fatalf("expected no answer without fun enabled, got %d", n)
	}

	if err := f.prefs.SetFun(100, true); err != nil {
		t.Fatalf("set fun: %v", err)
	}
	f.handlers.HandleMessage(msg("2", "Sinus"))
	f.handlers.HandleMessage(msg("3", "je vais me foutre au sol"))

	sent := f.session.sent()
	if len(sent) != 2 {
		t.Fatalf("expected two answers, got %+v", sent)
	}
	if sent[0].content != "Tangente" {
		t.Fatalf("expected Tangente, got %q", sent[0].content)
	}
	if sent[1].replyTo != "3" || !strings.Contains(sent[1].content, "Boeing") {
		t.Fatalf("expected a reply to message 3, got %+v", sent[1])
	}
}

func TestMemberWelcome(t *testing.T) {
	f := newFixture(t)
	f.session.systemChannels["100"] = "201"

	f.handlers.HandleMemberAdd(&discordgo.Member{GuildID: "100", User: &discordgo.User{ID: "77", Username: "alice"}})

	if _, err := f.prefs.GetUser(77); err != nil {
		t.Fatalf("expected new member to be registered: %v", err)
	}
	sent := f.session.sent()
	if len(sent) != 1 || sent[0].channelID != "201" || !strings.Contains(sent[0].content, "<@77>") {
		t.Fatalf("expected a welcome on the system channel, got %+v", sent)
	}
}

func TestMemberWelcomeFallsBackToFirstTextChannel(t *testing.T) {
	f := newFixture(t)
	f.session.channels["100"] = []*discordgo.Channel{
		{ID: "300", Type: discordgo.ChannelTypeGuildVoice, Position: 0},
		{ID: "302", Type: discordgo.ChannelTypeGuildText, Position: 2},
		{ID: "301", Type: discordgo.ChannelTypeGuildText, Position: 1},
	}

	f.handlers.HandleMemberAdd(&discordgo.Member{GuildID: "100", User: &discordgo.User{ID: "77"}})
	f.handlers.HandleMemberAdd(&discordgo.Member{GuildID: "100", User: &discordgo.User{ID: "78", Bot: true}})

	sent := f.session.sent()
	if len(sent) != 1 || sent[0].channelID != "301" {
		t.Fatalf("expected a single welcome on channel 301, got %+v", sent)
	}
	if _, err := f.prefs.GetUser(78); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bots must not be registered, got %v", err)
	}
}

func TestResolvers(t *testing.T) {
	s := newFakeSession()
	s.missing["7"] = true

	target, err := ChannelResolver(s)(context.Background(), 8)
	if err != nil || target.EntityID() != 8 {
		t.Fatalf("expected channel 8, got %v (err %v)", target, err)
	}
	if _, err := ChannelResolver(s)(context.Background(), 7); !errors.Is(err, subscription.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
	if _, err := UserResolver(s)(context.Background(), 7); !errors.Is(err, subscription.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}
