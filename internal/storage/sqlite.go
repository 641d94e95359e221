package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ernie/arcade/internal/domain"
	_ "modernc.org/sqlite"
)

// formatTimestamp converts time.Time to SQLite-compatible UTC ISO8601 string
// The Z suffix ensures the Go sqlite driver parses it back as UTC
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func formatNullTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

//go:embed schema.sql
var schema string

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// --- Player methods ---

// CreatePlayer creates a player account
func (s *Store) CreatePlayer(ctx context.Context, username, passwordHash string) (*domain.Player, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO players (username, password_hash, created_at) VALUES (?, ?, ?)
	`, username, passwordHash, formatTimestamp(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("player %s: %w", username, domain.ErrConflict)
		}
		return nil, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &domain.Player{ID: id, Username: username, CreatedAt: now}, nil
}

// GetPlayerByID returns a player by ID
func (s *Store) GetPlayerByID(ctx context.Context, id int64) (*domain.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at, last_login FROM players WHERE id = ?
	`, id)
	p, err := scanPlayer(row)
	return p, notFound(err)
}

// GetPlayerByUsername returns a player by username, case-insensitively
func (s *Store) GetPlayerByUsername(ctx context.Context, username string) (*domain.Player, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at, last_login FROM players WHERE username = ?
	`, username)
	p, err := scanPlayer(row)
	return p, notFound(err)
}

// GetPlayerCredentials returns a player and its password hash
func (s *Store) GetPlayerCredentials(ctx context.Context, username string) (*domain.Player, string, error) {
	var hash string
	var p domain.Player
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, created_at, last_login, password_hash FROM players WHERE username = ?
	`, username).Scan(&p.ID, &p.Username, &p.CreatedAt, &lastLogin, &hash)
	if err != nil {
		return nil, "", notFound(err)
	}
	p.LastLogin = scanNullTime(lastLogin)
	return &p, hash, nil
}

// UpdatePlayerLastLogin updates the last login timestamp
func (s *Store) UpdatePlayerLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE players SET last_login = ? WHERE id = ?
	`, formatTimestamp(time.Now()), id)
	return err
}

// UpdatePlayerPassword replaces a player's password hash
func (s *Store) UpdatePlayerPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE players SET password_hash = ? WHERE username = ?
	`, passwordHash, username)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("player %s: %w", username, domain.ErrNotFound)
	}
	return nil
}

// DeletePlayer removes a player by username
func (s *Store) DeletePlayer(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM players WHERE username = ?`, username)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("player %s: %w", username, domain.ErrNotFound)
	}
	return nil
}

// ListPlayers returns all players ordered by username
func (s *Store) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, created_at, last_login FROM players ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// --- Game catalog methods ---

// CreateGame publishes a game with its first version; g.ID is filled in
func (s *Store) CreateGame(ctx context.Context, g *domain.Game) error {
	if g.CurrentVersion == "" {
		return errors.New("game version required")
	}
	if g.Status == "" {
		g.Status = domain.GameStatusActive
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO games (name, description, developer, current_version, min_players, max_players, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, g.Name, g.Description, g.Developer, g.CurrentVersion, g.MinPlayers, g.MaxPlayers, g.Status, formatTimestamp(g.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("game %s: %w", g.Name, domain.ErrConflict)
		}
		return err
	}
	if g.ID, err = result.LastInsertId(); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO game_versions (game_id, version, created_at) VALUES (?, ?, ?)
	`, g.ID, g.CurrentVersion, formatTimestamp(g.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

// AddGameVersion records a new release and makes it the current version
func (s *Store) AddGameVersion(ctx context.Context, gameID int64, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE games SET current_version = ? WHERE id = ?`, version, gameID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("game %d: %w", gameID, domain.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO game_versions (game_id, version, created_at) VALUES (?, ?, ?)
	`, gameID, version, formatTimestamp(time.Now())); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("game %d version %s: %w", gameID, version, domain.ErrConflict)
		}
		return err
	}
	return tx.Commit()
}

// SetGameStatus marks a game active or removed
func (s *Store) SetGameStatus(ctx context.Context, gameID int64, status string) error {
	if status != domain.GameStatusActive && status != domain.GameStatusRemoved {
		return fmt.Errorf("invalid game status %q", status)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE games SET status = ? WHERE id = ?`, status, gameID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("game %d: %w", gameID, domain.ErrNotFound)
	}
	return nil
}

// GetGame returns a game by ID
func (s *Store) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, developer, current_version, min_players, max_players, status, created_at
		FROM games WHERE id = ?
	`, id)
	g, err := scanGame(row)
	return g, notFound(err)
}

// ListGames returns the catalog ordered by name
func (s *Store) ListGames(ctx context.Context, includeRemoved bool) ([]domain.Game, error) {
	query := `
		SELECT id, name, description, developer, current_version, min_players, max_players, status, created_at
		FROM games`
	if !includeRemoved {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := []domain.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *g)
	}
	return games, rows.Err()
}

// ListGameVersions returns the releases of a game, oldest first
func (s *Store) ListGameVersions(ctx context.Context, gameID int64) ([]domain.GameVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, v.version, g.min_players, g.max_players, v.created_at
		FROM game_versions v JOIN games g ON g.id = v.game_id
		WHERE v.game_id = ?
		ORDER BY v.created_at, v.version
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []domain.GameVersion
	for rows.Next() {
		v, err := scanGameVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

// ValidateGame returns a launchable version of an active game. An empty
// version selects the game's current version.
func (s *Store) ValidateGame(ctx context.Context, gameID int64, version string) (*domain.GameVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.name, v.version, g.min_players, g.max_players, v.created_at
		FROM games g JOIN game_versions v ON v.game_id = g.id
		WHERE g.id = ? AND g.status = 'active'
		AND v.version = COALESCE(NULLIF(?, ''), g.current_version)
	`, gameID, version)
	v, err := scanGameVersion(row)
	return v, notFound(err)
}

// --- Room history methods ---

// SaveRoom writes the final state of a closed room and its roster
func (s *Store) SaveRoom(ctx context.Context, room domain.Room) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (id, room_code, name, game_id, game_name, game_version, host_id,
			min_players, max_players, status, created_at, started_at, closed_at, close_reason, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			closed_at = excluded.closed_at,
			close_reason = excluded.close_reason,
			exit_code = excluded.exit_code
	`, room.ID, room.Code, room.Name, room.GameID, room.GameName, room.GameVersion, room.HostID,
		room.MinPlayers, room.MaxPlayers, string(room.Status), formatTimestamp(room.CreatedAt),
		formatNullTimestamp(room.StartedAt), formatNullTimestamp(room.ClosedAt),
		nullString(room.CloseReason), room.ExitCode)
	if err != nil {
		return fmt.Errorf("saving room: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ?`, room.ID); err != nil {
		return err
	}
	for i, m := range room.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, player_id, username, position, joined_at, departed)
			VALUES (?, ?, ?, ?, ?, ?)
		`, room.ID, m.PlayerID, m.Username, i, formatTimestamp(m.JoinedAt), m.Departed); err != nil {
			return fmt.Errorf("saving room member: %w", err)
		}
	}
	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// RoomFilter narrows a room history query
type RoomFilter struct {
	GameID   *int64
	PlayerID *int64
	Limit    int
}

// ListRoomHistory returns closed rooms, most recently closed first
func (s *Store) ListRoomHistory(ctx context.Context, filter RoomFilter) ([]domain.Room, error) {
	var where []string
	var args []any
	if filter.GameID != nil {
		where = append(where, "r.game_id = ?")
		args = append(args, *filter.GameID)
	}
	if filter.PlayerID != nil {
		where = append(where, "r.id IN (SELECT room_id FROM room_members WHERE player_id = ?)")
		args = append(args, *filter.PlayerID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + roomColumns + ` FROM rooms r`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.closed_at DESC, r.id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []domain.Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range rooms {
		members, err := s.roomMembers(ctx, rooms[i].ID)
		if err != nil {
			return nil, err
		}
		rooms[i].Members = members
	}
	return rooms, nil
}

// GetRoomHistory returns one closed room
func (s *Store) GetRoomHistory(ctx context.Context, id string) (*domain.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms r WHERE r.id = ?`, id)
	r, err := scanRoom(row)
	if err != nil {
		return nil, notFound(err)
	}
	if r.Members, err = s.roomMembers(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) roomMembers(ctx context.Context, roomID string) ([]domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, username, joined_at, departed FROM room_members
		WHERE room_id = ? ORDER BY position
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []domain.Member{}
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.PlayerID, &m.Username, &m.JoinedAt, &m.Departed); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
