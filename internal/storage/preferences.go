package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// PreferenceStore handles user and guild preference records.
type PreferenceStore struct {
	db *Database
}

// NewPreferenceStore creates a new preference store.
func NewPreferenceStore(db *Database) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// EnsureUser creates the user record with defaults if needed and returns it.
func (s *PreferenceStore) EnsureUser(userID int64) (*User, error) {
	query := `INSERT INTO users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`
	if _, err := s.db.Exec(query, userID); err != nil {
		return nil, fmt.Errorf("failed to create user %d: %w", userID, err)
	}
	return s.GetUser(userID)
}

// GetUser returns the user record, or ErrNotFound.
func (s *PreferenceStore) GetUser(userID int64) (*User, error) {
	var u User
	err := s.db.Get(&u, `SELECT * FROM users WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetFavLocation changes the default location of the user's weather queries.
func (s *PreferenceStore) SetFavLocation(userID int64, location string) error {
	if location == "" {
		return errors.New("location must not be empty")
	}
	query := `
		INSERT INTO users (user_id, fav_location) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET fav_location = excluded.fav_location
	`
	_, err := s.db.Exec(query, userID, location)
	return err
}

// SetEmoji sets the reaction emoji of the user and how often it is used.
// An empty emoji disables reactions.
func (s *PreferenceStore) SetEmoji(userID int64, emoji string, freq float64) error {
	if freq < 0 || freq > 1 {
		return fmt.Errorf("emoji frequency must be within [0, 1], got %v", freq)
	}
	query := `
		INSERT INTO users (user_id, emoji, emoji_freq) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			emoji = excluded.emoji,
			emoji_freq = excluded.emoji_freq
	`
	_, err := s.db.Exec(query, userID, emoji, freq)
	return err
}

// SetPrivateMessages records whether the user accepts private messages.
func (s *PreferenceStore) SetPrivateMessages(userID int64, enabled bool) error {
	query := `
		INSERT INTO users (user_id, mp) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET mp = excluded.mp
	`
	_, err := s.db.Exec(query, userID, enabled)
	return err
}

// EnsureGuild creates or renames the guild record and returns it.
func (s *PreferenceStore) EnsureGuild(guildID int64, name string) (*Guild, error) {
	query := `
		INSERT INTO guilds (guild_id, name) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET name = excluded.name
	`
	if _, err := s.db.Exec(query, guildID, name); err != nil {
		return nil, fmt.Errorf("failed to create guild %d: %w", guildID, err)
	}
	return s.GetGuild(guildID)
}

// GetGuild returns the guild record, or ErrNotFound.
func (s *PreferenceStore) GetGuild(guildID int64) (*Guild, error) {
	var g Guild
	err := s.db.Get(&g, `SELECT * FROM guilds WHERE guild_id = ?`, guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guild %d: %w", guildID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SetFun enables or disables emoji reactions in a guild.
func (s *PreferenceStore) SetFun(guildID int64, enabled bool) error {
	query := `
		INSERT INTO guilds (guild_id, fun) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET fun = excluded.fun
	`
	_, err := s.db.Exec(query, guildID, enabled)
	return err
}

// CountUsers returns the number of known users.
func (s *PreferenceStore) CountUsers() (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM users`)
	return n, err
}
