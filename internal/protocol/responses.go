package protocol

import "github.com/ernie/arcade/internal/domain"

// Error codes carried in ERROR frames
const (
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeGameNotFound        = "GAME_NOT_FOUND"
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodeRoomNotJoinable     = "ROOM_NOT_JOINABLE"
	CodeRoomFull            = "ROOM_FULL"
	CodeAlreadyMember       = "ALREADY_MEMBER"
	CodeNotMember           = "NOT_MEMBER"
	CodeNotHost             = "NOT_HOST"
	CodeInsufficientPlayers = "INSUFFICIENT_PLAYERS"
	CodeMatchRunning        = "MATCH_RUNNING"
	CodeNoMatch             = "NO_MATCH"
	CodePortsExhausted      = "PORTS_EXHAUSTED"
	CodeLaunchFailed        = "LAUNCH_FAILED"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type AuthResponse struct {
	Success      bool   `json:"success"`
	UserID       int64  `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	SessionToken string `json:"session_token,omitempty"`
	Error        string `json:"error,omitempty"`
}

type RegisterResponse struct {
	Success  bool   `json:"success"`
	UserID   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RoomResponse answers CREATE_ROOM and JOIN_ROOM
type RoomResponse struct {
	Success  bool        `json:"success"`
	RoomID   string      `json:"room_id"`
	RoomCode string      `json:"room_code"`
	RoomName string      `json:"room_name"`
	Room     domain.Room `json:"room"`
}

// RoomSummary is one ROOM_LIST_RESPONSE entry
type RoomSummary struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	RoomCode       string            `json:"room_code"`
	GameID         int64             `json:"game_id"`
	GameName       string            `json:"game_name"`
	HostName       string            `json:"host_name"`
	CurrentPlayers int               `json:"current_players"`
	MaxPlayers     int               `json:"max_players"`
	Status         domain.RoomStatus `json:"status"`
}

type RoomListResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

// GameStarted tells the host where the match listens
type GameStarted struct {
	RoomID   string `json:"room_id"`
	GameName string `json:"game_name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// Summarize builds a list entry from a room snapshot
func Summarize(r domain.Room) RoomSummary {
	s := RoomSummary{
		ID:         r.ID,
		Name:       r.Name,
		RoomCode:   r.Code,
		GameID:     r.GameID,
		GameName:   r.GameName,
		MaxPlayers: r.MaxPlayers,
		Status:     r.Status,
	}
	for _, m := range r.Members {
		if m.PlayerID == r.HostID {
			s.HostName = m.Username
		}
		if !m.Departed {
			s.CurrentPlayers++
		}
	}
	return s
}
