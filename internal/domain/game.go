package domain

import "time"

// Game status values
const (
	GameStatusActive  = "active"
	GameStatusRemoved = "removed"
)

// Game is a published title in the catalog
type Game struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Developer      string    `json:"developer,omitempty"`
	CurrentVersion string    `json:"current_version"`
	MinPlayers     int       `json:"min_players"`
	MaxPlayers     int       `json:"max_players"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// GameVersion is a validated, launchable release of a game.
// Player limits are carried from the game so a room can be checked
// without a second lookup.
type GameVersion struct {
	GameID     int64     `json:"game_id"`
	GameName   string    `json:"game_name"`
	Version    string    `json:"version"`
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
	CreatedAt  time.Time `json:"created_at"`
}
