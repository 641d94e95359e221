package storage

import (
	"database/sql"
	"time"

	"github.com/ernie/arcade/internal/domain"
)

// Null scanner helpers - reduce repetitive nil-checking code

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

func scanNullInt64ToIntPtr(ni sql.NullInt64) *int {
	if ni.Valid {
		v := int(ni.Int64)
		return &v
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPlayer(s scanner) (*domain.Player, error) {
	var p domain.Player
	var lastLogin sql.NullTime
	if err := s.Scan(&p.ID, &p.Username, &p.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	p.LastLogin = scanNullTime(lastLogin)
	return &p, nil
}

func scanGame(s scanner) (*domain.Game, error) {
	var g domain.Game
	err := s.Scan(&g.ID, &g.Name, &g.Description, &g.Developer, &g.CurrentVersion,
		&g.MinPlayers, &g.MaxPlayers, &g.Status, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanGameVersion(s scanner) (*domain.GameVersion, error) {
	var v domain.GameVersion
	err := s.Scan(&v.GameID, &v.GameName, &v.Version, &v.MinPlayers, &v.MaxPlayers, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

const roomColumns = `r.id, r.room_code, r.name, r.game_id, r.game_name, r.game_version, r.host_id,
	r.min_players, r.max_players, r.status, r.created_at, r.started_at, r.closed_at, r.close_reason, r.exit_code`

// scanRoom scans a rooms row; members are loaded separately
func scanRoom(s scanner) (*domain.Room, error) {
	var r domain.Room
	var status string
	var startedAt, closedAt sql.NullTime
	var closeReason sql.NullString
	var exitCode sql.NullInt64

	err := s.Scan(&r.ID, &r.Code, &r.Name, &r.GameID, &r.GameName, &r.GameVersion, &r.HostID,
		&r.MinPlayers, &r.MaxPlayers, &status, &r.CreatedAt, &startedAt, &closedAt, &closeReason, &exitCode)
	if err != nil {
		return nil, err
	}

	r.Status = domain.RoomStatus(status)
	r.StartedAt = scanNullTime(startedAt)
	r.ClosedAt = scanNullTime(closedAt)
	r.CloseReason = scanNullStringValue(closeReason)
	r.ExitCode = scanNullInt64ToIntPtr(exitCode)
	return &r, nil
}
