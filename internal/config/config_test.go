package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Discord: DiscordConfig{Token: "token"},
		Weather: WeatherConfig{APIKey: "key"},
		Daily: DailyConfig{
			SendHour:      7,
			ResetHour:     0,
			WindowMinutes: 2,
			PollInterval:  time.Minute,
			SaveFile:      "subs.json",
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing token", func(c *Config) { c.Discord.Token = "" }, true},
		{"missing api key", func(c *Config) { c.Weather.APIKey = "" }, true},
		{"send hour out of range", func(c *Config) { c.Daily.SendHour = 24 }, true},
		{"negative reset hour", func(c *Config) { c.Daily.ResetHour = -1 }, true},
		{"overlapping windows", func(c *Config) { c.Daily.ResetHour = 7 }, true},
		{"empty window", func(c *Config) { c.Daily.WindowMinutes = 0 }, true},
		{"window over an hour", func(c *Config) { c.Daily.WindowMinutes = 61 }, true},
		{"no poll interval", func(c *Config) { c.Daily.PollInterval = 0 }, true},
		{"no save file", func(c *Config) { c.Daily.SaveFile = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
discord:
  token: from-file
weather:
  api_key: abc
daily:
  send_hour: 8
  poll_interval: 30s
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SUNBOT_DISCORD_TOKEN", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Discord.Token != "from-env" {
		t.Errorf("expected env to override token, got %q", cfg.Discord.Token)
	}
	if cfg.Daily.SendHour != 8 || cfg.Daily.PollInterval != 30*time.Second {
		t.Errorf("unexpected daily config: %+v", cfg.Daily)
	}
	if cfg.Daily.ResetHour != 0 || cfg.Daily.WindowMinutes != 2 || cfg.Daily.SendDelay != 100*time.Millisecond {
		t.Errorf("expected daily defaults, got %+v", cfg.Daily)
	}
	if cfg.Weather.Lang != "fr" || cfg.Weather.MaxRetries != 3 {
		t.Errorf("expected weather defaults, got %+v", cfg.Weather)
	}
	if cfg.ServerAddress() != "0.0.0.0:9090" {
		t.Errorf("unexpected server address %q", cfg.ServerAddress())
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("weather:\n  api_key: abc\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SUNBOT_DISCORD_TOKEN", "")

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error without discord token")
	}
}
