package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/pkg/logger"
)

// Service ties the registry to the daily scheduler: it loads subscriptions
// at startup, saves them periodically and on shutdown.
type Service struct {
	registry *subscription.Registry
	daily    *Daily
	cron     *gocron.Scheduler
	autosave time.Duration
}

// NewService creates the service. A non-positive autosave interval disables
// the periodic save.
func NewService(registry *subscription.Registry, provider Provider, opts Options, autosave time.Duration) (*Service, error) {
	daily, err := NewDaily(registry, provider, opts)
	if err != nil {
		return nil, err
	}
	return &Service{
		registry: registry,
		daily:    daily,
		cron:     gocron.NewScheduler(time.UTC),
		autosave: autosave,
	}, nil
}

// Registry returns the subscription registry driven by the service.
func (s *Service) Registry() *subscription.Registry {
	return s.registry
}

// Daily returns the daily scheduler.
func (s *Service) Daily() *Daily {
	return s.daily
}

// Start loads the saved subscriptions, resolving targets with the given
// resolvers, then starts the scheduler loop and the autosave job.
func (s *Service) Start(ctx context.Context, userResolver, channelResolver subscription.Resolver) error {
	if err := s.registry.Load(ctx, userResolver, channelResolver); err != nil {
		return err
	}
	s.registry.Observe(s.daily)
	s.daily.Start()

	if s.autosave <= 0 {
		return nil
	}

	minutes := int(s.autosave.Minutes())
	if minutes <= 0 {
		minutes = 1
	}
	_, err := s.cron.Every(minutes).Minutes().Do(func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.registry.Save(saveCtx); err != nil {
			logger.Error().Err(err).Msg("Autosave failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule autosave: %w", err)
	}
	s.cron.StartAsync()

	logger.Info().Int("every_minutes", minutes).Msg("Subscription autosave scheduled")
	return nil
}

// Shutdown saves the registry, then stops the autosave job and the
// scheduler loop and waits for the loop to return.
func (s *Service) Shutdown(ctx context.Context) error {
	saveErr := s.registry.Save(ctx)
	if saveErr != nil {
		logger.Error().Err(saveErr).Msg("Failed to save subscriptions on shutdown")
	}

	s.cron.Stop()

	stopErr := s.daily.Stop(ctx)
	if stopErr != nil {
		logger.Error().Err(stopErr).Msg("Daily scheduler did not stop in time")
	}

	return errors.Join(saveErr, stopErr)
}
