package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/user/sunbot/internal/config"
	"github.com/user/sunbot/internal/discord"
	"github.com/user/sunbot/internal/scheduler"
	"github.com/user/sunbot/internal/storage"
	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/internal/weather"
	"github.com/user/sunbot/pkg/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Try to initialize basic logger for error output
		logger.Init(logger.Options{Debug: true})
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	err = logger.Init(logger.Options{
		Debug:      cfg.Log.Level == "debug",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	logger.Info().Msg("Starting SunBot")

	// Initialize database
	db, err := storage.NewDatabase(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	prefs := storage.NewPreferenceStore(db)
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	// Initialize weather client
	wx := weather.NewClient(weather.Options{
		BaseURL:    cfg.Weather.BaseURL,
		APIKey:     cfg.Weather.APIKey,
		Lang:       cfg.Weather.Lang,
		Timeout:    cfg.Weather.Timeout,
		MaxRetries: cfg.Weather.MaxRetries,
	})

	// Subscriptions and daily bulletin
	registry := subscription.NewRegistry(subscription.NewFileStore(cfg.Daily.SaveFile))
	daily, err := scheduler.NewService(registry, wx, scheduler.Options{
		SendHour:      cfg.Daily.SendHour,
		ResetHour:     cfg.Daily.ResetHour,
		WindowMinutes: cfg.Daily.WindowMinutes,
		PollInterval:  cfg.Daily.PollInterval,
		SendDelay:     cfg.Daily.SendDelay,
		FetchTimeout:  cfg.Daily.FetchTimeout,
	}, cfg.Daily.AutosaveInterval)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create daily weather service")
	}

	// Initialize Discord bot
	bot, err := discord.NewBot(discord.Options{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		Debug:   cfg.Discord.Debug,

		AppleHeadGIF: cfg.Discord.AppleHeadGIF,
	}, registry, prefs, wx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Discord bot")
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = daily.Start(startCtx, bot.UserResolver(), bot.ChannelResolver())
	startCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start daily weather service")
	}

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	startedAt := time.Now()
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		users, err := prefs.CountUsers()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		counts := registry.Count()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
			"users":          users,
			"subscriptions": map[string]subscription.Stats{
				subscription.User.String():  counts[subscription.User],
				subscription.Guild.String(): counts[subscription.Guild],
			},
		})
	})

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.ServerAddress(),
		Handler: r,
	}

	httpLog := logger.WithField("component", "http")
	go func() {
		httpLog.Info().Str("address", cfg.ServerAddress()).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpLog.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Start Discord bot
	if err := bot.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start Discord bot")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("Shutting down...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Save subscriptions, then stop the scheduler
	if err := daily.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Daily weather service shutdown error")
	}

	// Stop HTTP server
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop Discord bot
	if err := bot.Stop(); err != nil {
		logger.Error().Err(err).Msg("Discord bot shutdown error")
	}

	logger.Info().Msg("Shutdown complete")
}
