package api

import (
	"net/http"
	"strconv"

	"github.com/ernie/arcade/internal/domain"
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseOptionalID parses a positive integer query parameter. A missing
// parameter yields nil with no error.
func parseOptionalID(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed <= 0 {
		return nil, strconv.ErrSyntax
	}
	return &parsed, nil
}

// parseRoomStatus accepts the live room statuses; empty means any
func parseRoomStatus(r *http.Request) (domain.RoomStatus, bool) {
	switch s := domain.RoomStatus(r.URL.Query().Get("status")); s {
	case "", domain.RoomWaiting, domain.RoomPlaying:
		return s, true
	}
	return "", false
}
