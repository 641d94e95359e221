package lobby

import "errors"

// Per-request failures. Port exhaustion and launch failures are reported
// with ports.ErrExhausted and launcher.ErrLaunch wrapped in the returned error.
var (
	ErrGameNotFound        = errors.New("game not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomNotJoinable     = errors.New("room is not accepting players")
	ErrRoomFull            = errors.New("room is full")
	ErrAlreadyMember       = errors.New("player is already in another room")
	ErrNotMember           = errors.New("player is not in the room")
	ErrNotHost             = errors.New("only the host can do that")
	ErrInsufficientPlayers = errors.New("not enough players to start")
	ErrMatchRunning        = errors.New("match already running")
	ErrNoMatch             = errors.New("no match running")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrShuttingDown        = errors.New("coordinator is shutting down")
)
