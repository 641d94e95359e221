// Package api serves the lobby's HTTP status endpoints, account routes
// and the WebSocket gateway onto the lobby protocol.
package api

import (
	"context"
	"net/http"

	"github.com/ernie/arcade/internal/auth"
	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/lobby"
	"github.com/ernie/arcade/internal/ports"
	"github.com/ernie/arcade/internal/server"
	"github.com/ernie/arcade/internal/storage"
)

// Rooms is the read side of the live room registry
type Rooms interface {
	GetRoom(roomID string) (domain.Room, error)
	ListRooms(status domain.RoomStatus) []domain.Room
	Stats() lobby.Stats
}

// Deps are the components the router reads from
type Deps struct {
	Rooms      Rooms
	Store      *storage.Store
	Accounts   *auth.Accounts
	Ports      *ports.Allocator
	Dispatcher *server.Dispatcher
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux        *http.ServeMux
	rooms      Rooms
	store      *storage.Store
	accounts   *auth.Accounts
	ports      *ports.Allocator
	dispatcher *server.Dispatcher
	baseCtx    context.Context
}

// NewRouter creates a new HTTP router. WebSocket connections are served
// under ctx rather than the upgrade request's context.
func NewRouter(ctx context.Context, deps Deps) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		rooms:      deps.Rooms,
		store:      deps.Store,
		accounts:   deps.Accounts,
		ports:      deps.Ports,
		dispatcher: deps.Dispatcher,
		baseCtx:    ctx,
	}

	r.mux.HandleFunc("GET /api/rooms", r.handleGetRooms)
	r.mux.HandleFunc("GET /api/rooms/history", r.handleGetRoomHistory)
	r.mux.HandleFunc("GET /api/rooms/{id}", r.handleGetRoom)

	r.mux.HandleFunc("GET /api/games", r.handleGetGames)
	r.mux.HandleFunc("GET /api/games/{id}", r.handleGetGame)

	r.mux.HandleFunc("GET /api/ports", r.handleGetPorts)
	r.mux.HandleFunc("GET /api/stats", r.handleGetStats)

	// Auth routes
	r.mux.HandleFunc("POST /api/auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /api/auth/register", r.handleRegister)
	r.mux.HandleFunc("GET /api/auth/check", r.handleAuthCheck)

	// Lobby protocol over WebSocket
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}
