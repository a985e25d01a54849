// Package storage provides database operations and data models.
package storage

import (
	"errors"
	"time"
)

// DefaultLocation is the favourite location of a new user.
const DefaultLocation = "Toulouse"

// ErrNotFound is returned when a user or guild has no record.
var ErrNotFound = errors.New("record not found")

// User holds the preferences of a Discord user.
type User struct {
	UserID      int64     `db:"user_id"`
	FavLocation string    `db:"fav_location"`
	MP          bool      `db:"mp"` // accepts daily bulletins in private messages
	Emoji       string    `db:"emoji"`
	EmojiFreq   float64   `db:"emoji_freq"` // probability in [0, 1] of reacting to a message
	CreatedAt   time.Time `db:"created_at"`
}

// Guild holds the settings of a Discord server.
type Guild struct {
	GuildID   int64     `db:"guild_id"`
	Name      string    `db:"name"`
	Fun       bool      `db:"fun"` // enables emoji reactions
	CreatedAt time.Time `db:"created_at"`
}
