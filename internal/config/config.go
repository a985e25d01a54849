// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig  `mapstructure:"discord"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Daily    DailyConfig    `mapstructure:"daily"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// DiscordConfig holds Discord bot configuration.
type DiscordConfig struct {
	Token   string `mapstructure:"token"`
	GuildID string `mapstructure:"guild_id"` // register commands on one guild only; empty means global
	Debug   bool   `mapstructure:"debug"`

	AppleHeadGIF string `mapstructure:"apple_head_gif"`
}

// WeatherConfig holds Visual Crossing API configuration.
type WeatherConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Lang       string        `mapstructure:"lang"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint          `mapstructure:"max_retries"`
}

// DailyConfig holds the daily bulletin scheduler configuration.
type DailyConfig struct {
	SendHour         int           `mapstructure:"send_hour"`
	ResetHour        int           `mapstructure:"reset_hour"`
	WindowMinutes    int           `mapstructure:"window_minutes"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SendDelay        time.Duration `mapstructure:"send_delay"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	SaveFile         string        `mapstructure:"save_file"`
	AutosaveInterval time.Duration `mapstructure:"autosave_interval"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/sunbot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("discord.debug", false)
	v.SetDefault("discord.apple_head_gif", "")
	v.SetDefault("weather.base_url", "https://weather.visualcrossing.com")
	v.SetDefault("weather.lang", "fr")
	v.SetDefault("weather.timeout", 10*time.Second)
	v.SetDefault("weather.max_retries", 3)
	v.SetDefault("daily.send_hour", 7)
	v.SetDefault("daily.reset_hour", 0)
	v.SetDefault("daily.window_minutes", 2)
	v.SetDefault("daily.poll_interval", time.Minute)
	v.SetDefault("daily.send_delay", 100*time.Millisecond)
	v.SetDefault("daily.fetch_timeout", 30*time.Second)
	v.SetDefault("daily.save_file", "./data/subscriptions.json")
	v.SetDefault("daily.autosave_interval", 10*time.Minute)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("SUNBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"discord.token", "discord.guild_id", "weather.api_key", "log.file"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks if all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}
	if c.Weather.APIKey == "" {
		return fmt.Errorf("weather api key is required")
	}
	return c.Daily.Validate()
}

// Validate checks the send and reset windows.
func (d DailyConfig) Validate() error {
	if d.SendHour < 0 || d.SendHour > 23 {
		return fmt.Errorf("daily.send_hour must be within 0..23, got %d", d.SendHour)
	}
	if d.ResetHour < 0 || d.ResetHour > 23 {
		return fmt.Errorf("daily.reset_hour must be within 0..23, got %d", d.ResetHour)
	}
	// Windows never span more than one hour, so distinct hours cannot overlap.
	if d.SendHour == d.ResetHour {
		return fmt.Errorf("daily.send_hour and daily.reset_hour must differ")
	}
	if d.WindowMinutes < 1 || d.WindowMinutes > 60 {
		return fmt.Errorf("daily.window_minutes must be within 1..60, got %d", d.WindowMinutes)
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("daily.poll_interval must be positive")
	}
	if d.SaveFile == "" {
		return fmt.Errorf("daily.save_file is required")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
