// Package scheduler runs the daily weather bulletin: a per-location state
// machine driven by a polling loop, plus the startup/shutdown glue around
// the subscription registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/sunbot/internal/notifier"
	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/internal/weather"
	"github.com/user/sunbot/pkg/logger"
)

// Provider fetches the forecast sent in the bulletin. A nil forecast with a
// nil error means the provider had no data.
type Provider interface {
	DailyWeather(ctx context.Context, location string) (*weather.DailyForecast, error)
}

// Options configures the daily scheduler.
type Options struct {
	SendHour      int
	ResetHour     int
	WindowMinutes int
	PollInterval  time.Duration
	SendDelay     time.Duration
	FetchTimeout  time.Duration
	Clock         Clock
}

func (o *Options) setDefaults() {
	if o.WindowMinutes <= 0 {
		o.WindowMinutes = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Minute
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
}

// Validate rejects hours outside a day and a send hour equal to the reset
// hour, which would reset every pair before it could be sent.
func (o Options) Validate() error {
	if o.SendHour < 0 || o.SendHour > 23 {
		return fmt.Errorf("send hour must be between 0 and 23, got %d", o.SendHour)
	}
	if o.ResetHour < 0 || o.ResetHour > 23 {
		return fmt.Errorf("reset hour must be between 0 and 23, got %d", o.ResetHour)
	}
	if o.SendHour == o.ResetHour {
		return fmt.Errorf("send hour and reset hour must differ, both are %d", o.SendHour)
	}
	if o.WindowMinutes > 60 {
		return fmt.Errorf("window must not exceed 60 minutes, got %d", o.WindowMinutes)
	}
	return nil
}

type pairKey struct {
	kind subscription.Kind
	name string
}

// Daily sends each (kind, location) pair its bulletin once per local day.
// A pair is pending until the bulletin went out, then sent until the next
// reset window.
type Daily struct {
	registry *subscription.Registry
	provider Provider
	notifier *notifier.Notifier
	opts     Options

	mu   sync.Mutex
	sent map[pairKey]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDaily creates a daily scheduler reading subscriptions from registry.
// It does not observe the registry; call registry.Observe with it.
func NewDaily(registry *subscription.Registry, provider Provider, opts Options) (*Daily, error) {
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daily options: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Daily{
		registry: registry,
		provider: provider,
		notifier: notifier.NewNotifier(opts.SendDelay),
		opts:     opts,
		sent:     make(map[pairKey]bool),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// LocationAdded starts a new pair as pending.
func (d *Daily) LocationAdded(kind subscription.Kind, loc subscription.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[pairKey{kind, loc.Name()}] = false
}

// LocationRemoved forgets the flag of a dropped pair.
func (d *Daily) LocationRemoved(kind subscription.Kind, loc subscription.Location) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sent, pairKey{kind, loc.Name()})
}

// Sent reports whether the bulletin of the pair went out today.
func (d *Daily) Sent(kind subscription.Kind, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[pairKey{kind, name}]
}

func (d *Daily) setSent(key pairKey, sent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[key] = sent
}

// Start begins the polling loop.
func (d *Daily) Start() {
	d.wg.Add(1)
	go d.loop()
	logger.Info().
		Dur("interval", d.opts.PollInterval).
		Int("send_hour", d.opts.SendHour).
		Int("reset_hour", d.opts.ResetHour).
		Msg("Daily scheduler started")
}

// Stop cancels the polling loop and waits for it to return, or for ctx to
// end first.
func (d *Daily) Stop(ctx context.Context) error {
	logger.Info().Msg("Stopping daily scheduler")
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daily) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			logger.Info().Msg("Daily scheduler stopped")
			return
		case <-ticker.C:
			d.tick(d.ctx)
		}
	}
}

// tick runs one pass of the state machine over every pair.
func (d *Daily) tick(ctx context.Context) {
	now := d.opts.Clock.Now()

	for _, kind := range subscription.Kinds() {
		pairs, err := d.registry.ListSubscribers(kind)
		if err != nil {
			logger.Error().Err(err).Str("kind", kind.String()).Msg("Failed to list subscribers")
			continue
		}

		locs := make([]subscription.Location, 0, len(pairs))
		for loc := range pairs {
			locs = append(locs, loc)
		}
		sort.Slice(locs, func(i, j int) bool { return locs[i].Name() < locs[j].Name() })

		for _, loc := range locs {
			if ctx.Err() != nil {
				return
			}
			d.step(ctx, kind, loc, pairs[loc], now)
		}
	}
}

func (d *Daily) step(ctx context.Context, kind subscription.Kind, loc subscription.Location, targets map[int64]subscription.Target, now time.Time) {
	local, err := loc.In(now)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("kind", kind.String()).
			Str("location", loc.Name()).
			Msg("Skipping location without usable timezone")
		return
	}

	key := pairKey{kind, loc.Name()}
	switch {
	case d.inWindow(local, d.opts.ResetHour):
		d.setSent(key, false)
	case d.inWindow(local, d.opts.SendHour) && !d.Sent(kind, loc.Name()):
		d.deliver(ctx, key, loc, targets)
	}
}

func (d *Daily) inWindow(local time.Time, hour int) bool {
	return local.Hour() == hour && local.Minute() < d.opts.WindowMinutes
}

// deliver fetches the forecast and broadcasts it. On any fetch failure the
// pair stays pending and the next tick retries.
func (d *Daily) deliver(ctx context.Context, key pairKey, loc subscription.Location, targets map[int64]subscription.Target) {
	fetchCtx, cancel := context.WithTimeout(ctx, d.opts.FetchTimeout)
	forecast, err := d.provider.DailyWeather(fetchCtx, loc.Name())
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		logger.Error().
			Err(err).
			Str("kind", key.kind.String()).
			Str("location", loc.Name()).
			Msg("Failed to fetch daily weather, will retry")
		return
	}
	if forecast == nil {
		logger.Warn().
			Str("kind", key.kind.String()).
			Str("location", loc.Name()).
			Msg("No daily weather data, will retry")
		return
	}

	d.setSent(key, true)

	text := weather.FormatDaily(loc.Name(), forecast)
	var attach func() *subscription.Attachment
	if len(forecast.Day.Hours) > 0 {
		table := weather.FormatHourly(loc.Name(), forecast)
		attach = func() *subscription.Attachment {
			return &subscription.Attachment{
				Name:        "previsions.txt",
				ContentType: "text/plain; charset=utf-8",
				Reader:      strings.NewReader(table),
			}
		}
	}

	res := d.notifier.Broadcast(ctx, text, attach, targets)
	logger.Info().
		Str("kind", key.kind.String()).
		Str("location", loc.Name()).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("Daily bulletin delivered")
}
