package domain

import "time"

// EventRoomUpdated is the only push event; Reason says which transition produced it
const EventRoomUpdated = "room_updated"

// Room update reasons
const (
	ReasonCreated      = "created"
	ReasonPlayerJoined = "player_joined"
	ReasonPlayerLeft   = "player_left"
	ReasonRefresh      = "refresh"
	ReasonMatchStarted = "match_started"
	ReasonClosed       = "closed"
)

// RoomEvent is pushed to every connection subscribed to a room
type RoomEvent struct {
	Type      string    `json:"event"`
	Reason    string    `json:"reason"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Room      Room      `json:"room"`
}
