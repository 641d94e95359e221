// Package session binds live connections to player identities.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ernie/arcade/internal/domain"
)

// ErrUnauthorized is returned for missing, invalid or expired tokens
var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks a session token against the account store
type Verifier interface {
	VerifyToken(ctx context.Context, token string) (domain.Player, error)
}

// Resolver creates per-connection sessions sharing one Verifier
type Resolver struct {
	verifier Verifier
}

// NewResolver creates a resolver
func NewResolver(v Verifier) *Resolver {
	return &Resolver{verifier: v}
}

// NewSession starts an anonymous session for a connection from remote
func (r *Resolver) NewSession(remote string) *Session {
	return &Session{
		verifier: r.verifier,
		remote:   remote,
		rooms:    make(map[string]struct{}),
	}
}

// Session is the identity and subscriptions of one connection.
//
// The first token that verifies is cached for the life of the connection.
// Token expiry is not rechecked after that.
type Session struct {
	verifier Verifier
	remote   string

	mu     sync.Mutex
	token  string
	player *domain.Player
	rooms  map[string]struct{}
}

// Remote is the peer address of the connection
func (s *Session) Remote() string {
	return s.remote
}

// Resolve returns the player for token, verifying it on first use.
// A token for a different player than the one already bound is rejected.
func (s *Session) Resolve(ctx context.Context, token string) (domain.Player, error) {
	if token == "" {
		return domain.Player{}, fmt.Errorf("%w: session token required", ErrUnauthorized)
	}

	s.mu.Lock()
	if s.player != nil && token == s.token {
		p := *s.player
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.verifier.VerifyToken(ctx, token)
	if err != nil {
		return domain.Player{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil && s.player.ID != p.ID {
		return domain.Player{}, fmt.Errorf("%w: connection is bound to another player", ErrUnauthorized)
	}
	s.token = token
	s.player = &p
	return p, nil
}

// Player returns the bound player, if any
func (s *Session) Player() (domain.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return domain.Player{}, false
	}
	return *s.player, true
}

// Invalidate forgets the bound player and token (logout)
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = nil
	s.token = ""
}

// Subscribe records that the connection receives events for roomID
func (s *Session) Subscribe(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = struct{}{}
}

// Unsubscribe forgets roomID
func (s *Session) Unsubscribe(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
}

// Rooms lists subscribed room ids in sorted order
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
