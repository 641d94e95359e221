package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed payload")
)

// Request is a decoded client request. The concrete type is one of the
// *Request structs below.
type Request interface {
	Type() MessageType
}

// Authenticated requests carry the session token issued at login
type Authenticated interface {
	Request
	Token() string
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutRequest struct {
	SessionToken string `json:"session_token"`
}

type CreateRoomRequest struct {
	SessionToken string `json:"session_token"`
	GameID       int64  `json:"game_id"`
	Version      string `json:"version,omitempty"`
	Name         string `json:"name,omitempty"`
	MaxPlayers   int    `json:"max_players,omitempty"`
}

type JoinRoomRequest struct {
	SessionToken string `json:"session_token"`
	RoomCode     string `json:"room_code"`
}

type LeaveRoomRequest struct {
	SessionToken string `json:"session_token"`
	RoomID       string `json:"room_id"`
}

// RoomListRequest may be sent without a token
type RoomListRequest struct {
	SessionToken string `json:"session_token,omitempty"`
	Status       string `json:"status,omitempty"`
}

type StartGameRequest struct {
	SessionToken string `json:"session_token"`
	RoomID       string `json:"room_id"`
}

type StopGameRequest struct {
	SessionToken string `json:"session_token"`
	RoomID       string `json:"room_id"`
}

type HeartbeatRequest struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (*AuthRequest) Type() MessageType       { return TypeAuthRequest }
func (*RegisterRequest) Type() MessageType   { return TypeRegisterRequest }
func (*LogoutRequest) Type() MessageType     { return TypeLogout }
func (*CreateRoomRequest) Type() MessageType { return TypeCreateRoom }
func (*JoinRoomRequest) Type() MessageType   { return TypeJoinRoom }
func (*LeaveRoomRequest) Type() MessageType  { return TypeLeaveRoom }
func (*RoomListRequest) Type() MessageType   { return TypeRoomListRequest }
func (*StartGameRequest) Type() MessageType  { return TypeStartGame }
func (*StopGameRequest) Type() MessageType   { return TypeStopGame }
func (*HeartbeatRequest) Type() MessageType  { return TypeHeartbeat }

func (r *LogoutRequest) Token() string     { return r.SessionToken }
func (r *CreateRoomRequest) Token() string { return r.SessionToken }
func (r *JoinRoomRequest) Token() string   { return r.SessionToken }
func (r *LeaveRoomRequest) Token() string  { return r.SessionToken }
func (r *StartGameRequest) Token() string  { return r.SessionToken }
func (r *StopGameRequest) Token() string   { return r.SessionToken }

// Decode parses a client frame into its request type
func Decode(m Message) (Request, error) {
	var req Request
	switch m.Type {
	case TypeAuthRequest:
		req = &AuthRequest{}
	case TypeRegisterRequest:
		req = &RegisterRequest{}
	case TypeLogout:
		req = &LogoutRequest{}
	case TypeCreateRoom:
		req = &CreateRoomRequest{}
	case TypeJoinRoom:
		req = &JoinRoomRequest{}
	case TypeLeaveRoom:
		req = &LeaveRoomRequest{}
	case TypeRoomListRequest:
		req = &RoomListRequest{}
	case TypeStartGame:
		req = &StartGameRequest{}
	case TypeStopGame:
		req = &StopGameRequest{}
	case TypeHeartbeat:
		req = &HeartbeatRequest{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, m.Type)
	}

	payload := bytes.TrimSpace(m.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type, err)
	}
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, m.Type, err)
	}
	return req, nil
}

func validate(req Request) error {
	switch r := req.(type) {
	case *AuthRequest:
		if r.Username == "" || r.Password == "" {
			return errors.New("username and password required")
		}
	case *RegisterRequest:
		if r.Username == "" || r.Password == "" {
			return errors.New("username and password required")
		}
	case *CreateRoomRequest:
		if r.GameID <= 0 {
			return errors.New("game_id required")
		}
		if r.MaxPlayers < 0 {
			return errors.New("max_players must not be negative")
		}
	case *JoinRoomRequest:
		if r.RoomCode == "" {
			return errors.New("room_code required")
		}
	case *LeaveRoomRequest:
		if r.RoomID == "" {
			return errors.New("room_id required")
		}
	case *StartGameRequest:
		if r.RoomID == "" {
			return errors.New("room_id required")
		}
	case *StopGameRequest:
		if r.RoomID == "" {
			return errors.New("room_id required")
		}
	}
	return nil
}
