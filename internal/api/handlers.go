package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/lobby"
	"github.com/ernie/arcade/internal/ports"
	"github.com/ernie/arcade/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	idStr := req.PathValue(param)
	return strconv.ParseInt(idStr, 10, 64)
}

// handleGetRooms returns live rooms, optionally filtered by status
func (r *Router) handleGetRooms(w http.ResponseWriter, req *http.Request) {
	status, ok := parseRoomStatus(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "status must be waiting or playing")
		return
	}
	writeJSON(w, http.StatusOK, r.rooms.ListRooms(status))
}

// handleGetRoom returns a live room, falling back to its closed history
func (r *Router) handleGetRoom(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")

	room, err := r.rooms.GetRoom(id)
	if err == nil {
		writeJSON(w, http.StatusOK, room)
		return
	}
	if !errors.Is(err, lobby.ErrRoomNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	closed, err := r.store.GetRoomHistory(req.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

// handleGetRoomHistory returns closed rooms, most recent first
func (r *Router) handleGetRoomHistory(w http.ResponseWriter, req *http.Request) {
	gameID, err := parseOptionalID(req, "game_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game_id")
		return
	}
	playerID, err := parseOptionalID(req, "player_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid player_id")
		return
	}

	rooms, err := r.store.ListRoomHistory(req.Context(), storage.RoomFilter{
		GameID:   gameID,
		PlayerID: playerID,
		Limit:    parseLimit(req, 50, 500),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// handleGetGames returns the active catalog
func (r *Router) handleGetGames(w http.ResponseWriter, req *http.Request) {
	games, err := r.store.ListGames(req.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// GameResponse is a game with its published versions
type GameResponse struct {
	domain.Game
	Versions []domain.GameVersion `json:"versions"`
}

// handleGetGame returns a single game and its versions
func (r *Router) handleGetGame(w http.ResponseWriter, req *http.Request) {
	id, err := parseID(req, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid game id")
		return
	}

	game, err := r.store.GetGame(req.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	versions, err := r.store.ListGameVersions(req.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, GameResponse{Game: *game, Versions: versions})
}

// PortsResponse describes the match port pool
type PortsResponse struct {
	First  int           `json:"first"`
	Last   int           `json:"last"`
	Size   int           `json:"size"`
	Free   int           `json:"free"`
	Leases []ports.Lease `json:"leases"`
}

func (r *Router) handleGetPorts(w http.ResponseWriter, req *http.Request) {
	first, last := r.ports.Range()
	writeJSON(w, http.StatusOK, PortsResponse{
		First:  first,
		Last:   last,
		Size:   r.ports.Size(),
		Free:   r.ports.Free(),
		Leases: r.ports.Leases(),
	})
}

// StatsResponse is the lobby summary
type StatsResponse struct {
	lobby.Stats
	Connections int `json:"connections"`
	FreePorts   int `json:"free_ports"`
}

func (r *Router) handleGetStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:       r.rooms.Stats(),
		Connections: r.dispatcher.ConnectionCount(),
		FreePorts:   r.ports.Free(),
	})
}

// handleHealth returns server health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
