package server

import (
	"errors"
	"log"

	"github.com/ernie/arcade/internal/auth"
	"github.com/ernie/arcade/internal/launcher"
	"github.com/ernie/arcade/internal/lobby"
	"github.com/ernie/arcade/internal/ports"
	"github.com/ernie/arcade/internal/protocol"
	"github.com/ernie/arcade/internal/session"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{session.ErrUnauthorized, protocol.CodeUnauthorized},
	{auth.ErrInvalidToken, protocol.CodeUnauthorized},
	{lobby.ErrGameNotFound, protocol.CodeGameNotFound},
	{lobby.ErrRoomNotFound, protocol.CodeRoomNotFound},
	{lobby.ErrRoomNotJoinable, protocol.CodeRoomNotJoinable},
	{lobby.ErrRoomFull, protocol.CodeRoomFull},
	{lobby.ErrAlreadyMember, protocol.CodeAlreadyMember},
	{lobby.ErrNotMember, protocol.CodeNotMember},
	{lobby.ErrNotHost, protocol.CodeNotHost},
	{lobby.ErrInsufficientPlayers, protocol.CodeInsufficientPlayers},
	{lobby.ErrMatchRunning, protocol.CodeMatchRunning},
	{lobby.ErrNoMatch, protocol.CodeNoMatch},
	{lobby.ErrInvalidArgument, protocol.CodeInvalidArgument},
	{lobby.ErrShuttingDown, protocol.CodeUnavailable},
	{ports.ErrExhausted, protocol.CodePortsExhausted},
	{launcher.ErrLaunch, protocol.CodeLaunchFailed},
	{protocol.ErrMalformed, protocol.CodeBadRequest},
	{protocol.ErrUnknownType, protocol.CodeBadRequest},
	{auth.ErrInvalidUsername, protocol.CodeInvalidArgument},
	{auth.ErrWeakPassword, protocol.CodeInvalidArgument},
}

// errorResponse maps err to an ERROR frame. Unknown errors are logged
// and reported without detail.
func errorResponse(err error) protocol.ErrorResponse {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return protocol.ErrorResponse{Error: err.Error(), Code: ec.code}
		}
	}
	log.Printf("Warning: internal error handling request: %v", err)
	return protocol.ErrorResponse{Error: "internal error", Code: protocol.CodeInternal}
}
