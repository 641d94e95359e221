package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ernie/arcade/internal/auth"
	"github.com/ernie/arcade/internal/domain"
)

// LoginRequest is the request body for login and registration
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for successful login
type LoginResponse struct {
	Token    string `json:"token"`
	PlayerID int64  `json:"player_id"`
	Username string `json:"username"`
}

func decodeCredentials(w http.ResponseWriter, req *http.Request) (LoginRequest, bool) {
	var login LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return login, false
	}
	if login.Username == "" || login.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return login, false
	}
	return login, true
}

// handleLogin authenticates a player and returns a session token usable
// on the lobby protocol
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	login, ok := decodeCredentials(w, req)
	if !ok {
		return
	}

	token, player, err := r.accounts.Login(req.Context(), login.Username, login.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		log.Printf("Warning: login for %s failed: %v", login.Username, err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:    token,
		PlayerID: player.ID,
		Username: player.Username,
	})
}

// handleRegister creates a player account
func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	login, ok := decodeCredentials(w, req)
	if !ok {
		return
	}

	player, err := r.accounts.Register(req.Context(), login.Username, login.Password)
	switch {
	case err == nil:
		log.Printf("Player %s registered over HTTP", player.Username)
		writeJSON(w, http.StatusCreated, player)
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "username already exists")
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("Warning: registration for %s failed: %v", login.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to create player")
	}
}

// handleAuthCheck checks if the current token is valid
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	player, ok := r.authPlayer(req)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"player_id":     player.ID,
		"username":      player.Username,
	})
}

// authPlayer resolves the bearer token in the Authorization header
func (r *Router) authPlayer(req *http.Request) (domain.Player, bool) {
	authHeader := req.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return domain.Player{}, false
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	player, err := r.accounts.VerifyToken(req.Context(), token)
	if err != nil {
		return domain.Player{}, false
	}
	return player, true
}
