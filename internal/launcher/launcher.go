// Package launcher starts and supervises per-match game server processes.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrLaunch matches every LaunchError
	ErrLaunch             = errors.New("launch failed")
	ErrExecutableNotFound = errors.New("game server executable not found")
	ErrExitedEarly        = errors.New("game server exited during startup")
)

// LaunchError reports a match process that could not be brought up
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrLaunch, e.Err}
}

// Config controls where game servers are found and how they are run
type Config struct {
	GamesDir    string
	Interpreter string // optional, e.g. "python3"; empty runs the entrypoint directly
	Entrypoint  string
	// StartupGrace is how long a fresh process must stay up before the
	// launch counts as successful
	StartupGrace time.Duration
	StopTimeout  time.Duration
}

// MatchSpec is everything a game server needs to host one match
type MatchSpec struct {
	RoomID     string
	GameID     int64
	GameName   string
	Version    string
	Port       int
	Players    []string
	MinPlayers int
	MaxPlayers int
}

// ExitStatus is how a match process ended
type ExitStatus struct {
	Code int
	Err  error
}

// Success reports a clean zero exit
func (s ExitStatus) Success() bool {
	return s.Err == nil && s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Err != nil {
		return fmt.Sprintf("exit code %d (%v)", s.Code, s.Err)
	}
	return fmt.Sprintf("exit code %d", s.Code)
}

// Match is a running game server.
// OnExit callbacks always run on their own goroutine, so callers may
// register them while holding locks the callback needs.
type Match interface {
	Pid() int
	OnExit(func(ExitStatus))
	Stop(ctx context.Context) error
}

// Launcher spawns game server processes
type Launcher struct {
	cfg Config
}

// New creates a launcher
func New(cfg Config) *Launcher {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Launcher{cfg: cfg}
}

// ExecutablePath returns the server entry point for a game version
func (l *Launcher) ExecutablePath(gameID int64, version string) string {
	return filepath.Join(l.cfg.GamesDir, strconv.FormatInt(gameID, 10), version, l.cfg.Entrypoint)
}

// Args builds the command line handed to a game server
func Args(spec MatchSpec) []string {
	return []string{
		"--port", strconv.Itoa(spec.Port),
		"--room-id", spec.RoomID,
		"--players", strings.Join(spec.Players, ","),
		"--min-players", strconv.Itoa(spec.MinPlayers),
		"--max-players", strconv.Itoa(spec.MaxPlayers),
		"--game-name", spec.GameName,
	}
}

// Launch starts the game server for spec and waits out the startup grace.
// The process is not tied to ctx once it is up; ctx only bounds startup.
func (l *Launcher) Launch(ctx context.Context, spec MatchSpec) (Match, error) {
	path := l.ExecutablePath(spec.GameID, spec.Version)
	if _, err := os.Stat(path); err != nil {
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("%w: %v", ErrExecutableNotFound, err)}
	}

	name, args := path, Args(spec)
	if l.cfg.Interpreter != "" {
		name = l.cfg.Interpreter
		args = append([]string{path}, args...)
	}

	prefix := fmt.Sprintf("[match %s] ", spec.RoomID)
	cmd := exec.Command(name, args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = append(os.Environ(),
		"ARCADE_ROOM_ID="+spec.RoomID,
		"ARCADE_PORT="+strconv.Itoa(spec.Port),
	)
	cmd.Stdout = newLineLogger(prefix)
	cmd.Stderr = newLineLogger(prefix)
	// Children that inherit stdout must not hold Wait forever
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}
	log.Printf("Spawned game server for room %s on port %d (pid %d)", spec.RoomID, spec.Port, cmd.Process.Pid)

	p := newProcess(cmd, spec.RoomID, l.cfg.StopTimeout)
	go p.wait()

	if l.cfg.StartupGrace <= 0 {
		return p, nil
	}

	timer := time.NewTimer(l.cfg.StartupGrace)
	defer timer.Stop()

	select {
	case <-timer.C:
		return p, nil
	case <-p.done:
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("%w: %s", ErrExitedEarly, p.exitStatus())}
	case <-ctx.Done():
		p.kill()
		<-p.done
		return nil, &LaunchError{Path: path, Err: ctx.Err()}
	}
}
