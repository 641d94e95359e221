package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"

	"github.com/ernie/arcade/internal/domain"
)

var (
	ErrUsernameTaken   = errors.New("username already exists")
	ErrInvalidUsername = errors.New("username must be 3-32 letters, digits, '_' or '-'")
	ErrWeakPassword    = errors.New("password must be at least 8 characters")
)

const minPasswordLength = 8

var validUsername = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// PlayerStore is the persistence Accounts needs
type PlayerStore interface {
	CreatePlayer(ctx context.Context, username, passwordHash string) (*domain.Player, error)
	GetPlayerCredentials(ctx context.Context, username string) (*domain.Player, string, error)
	GetPlayerByID(ctx context.Context, id int64) (*domain.Player, error)
	UpdatePlayerLastLogin(ctx context.Context, id int64) error
}

// Accounts registers players, logs them in and verifies their tokens
type Accounts struct {
	store  PlayerStore
	tokens *Service
}

// NewAccounts creates an account service
func NewAccounts(store PlayerStore, tokens *Service) *Accounts {
	return &Accounts{store: store, tokens: tokens}
}

// ValidateCredentials checks username and password rules for a new account
func ValidateCredentials(username, password string) error {
	if !validUsername.MatchString(username) {
		return ErrInvalidUsername
	}
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// Register creates a player account
func (a *Accounts) Register(ctx context.Context, username, password string) (*domain.Player, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	p, err := a.store.CreatePlayer(ctx, username, hash)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("creating player: %w", err)
	}
	log.Printf("New player registered: %s", username)
	return p, nil
}

// Login checks a password and issues a session token
func (a *Accounts) Login(ctx context.Context, username, password string) (string, *domain.Player, error) {
	p, hash, err := a.store.GetPlayerCredentials(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("looking up player: %w", err)
	}
	if !CheckPassword(password, hash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := a.tokens.GenerateToken(p.ID, p.Username)
	if err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}

	if err := a.store.UpdatePlayerLastLogin(ctx, p.ID); err != nil {
		log.Printf("Warning: failed to record last login for %s: %v", p.Username, err)
	}
	return token, p, nil
}

// VerifyToken resolves a session token to a player that still exists
func (a *Accounts) VerifyToken(ctx context.Context, token string) (domain.Player, error) {
	claims, err := a.tokens.ValidateToken(token)
	if err != nil {
		return domain.Player{}, err
	}
	p, err := a.store.GetPlayerByID(ctx, claims.PlayerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Player{}, ErrInvalidToken
		}
		return domain.Player{}, fmt.Errorf("looking up player: %w", err)
	}
	return *p, nil
}
