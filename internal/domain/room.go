package domain

import "time"

// RoomStatus is the lifecycle state of a room
type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomPlaying RoomStatus = "playing"
	RoomClosed  RoomStatus = "closed"
)

// Close reasons recorded on closed rooms
const (
	CloseHostLeft   = "host_left"
	CloseEmpty      = "empty"
	CloseMatchEnded = "match_ended"
	CloseShutdown   = "shutdown"
)

// Member is one player seated in a room. Departed marks a player who
// left while the match was running; the launched roster is kept intact.
type Member struct {
	PlayerID int64     `json:"player_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
	Departed bool      `json:"departed,omitempty"`
}

// Room is a snapshot of a lobby unit. Port and Host are only set
// while the room is playing.
type Room struct {
	ID          string     `json:"id"`
	Code        string     `json:"room_code"`
	Name        string     `json:"name"`
	GameID      int64      `json:"game_id"`
	GameName    string     `json:"game_name"`
	GameVersion string     `json:"game_version"`
	HostID      int64      `json:"host_id"`
	MinPlayers  int        `json:"min_players"`
	MaxPlayers  int        `json:"max_players"`
	Status      RoomStatus `json:"status"`
	Members     []Member   `json:"members"`
	Host        string     `json:"host,omitempty"`
	Port        *int       `json:"port,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
}

// HasMember reports whether the player is seated in the room and has not departed
func (r *Room) HasMember(playerID int64) bool {
	for _, m := range r.Members {
		if m.PlayerID == playerID && !m.Departed {
			return true
		}
	}
	return false
}

// Usernames returns member usernames in seating order
func (r *Room) Usernames() []string {
	names := make([]string, len(r.Members))
	for i, m := range r.Members {
		names[i] = m.Username
	}
	return names
}
