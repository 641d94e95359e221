// Package lobby owns the in-memory room table: membership, the
// waiting/playing/closed state machine, and the match bound to each room.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/launcher"
	"github.com/google/uuid"
)

// Catalog validates that a game version exists and may be launched.
// An empty version selects the game's current version.
type Catalog interface {
	ValidateGame(ctx context.Context, gameID int64, version string) (*domain.GameVersion, error)
}

// Recorder persists the final state of closed rooms
type Recorder interface {
	SaveRoom(ctx context.Context, room domain.Room) error
}

// PortPool leases match ports
type PortPool interface {
	Acquire(owner string) (int, error)
	Release(port int)
}

// Launcher starts match processes
type Launcher interface {
	Launch(ctx context.Context, spec launcher.MatchSpec) (launcher.Match, error)
}

// EventSink receives a copy of every room event, in per-room order
type EventSink interface {
	Publish(domain.RoomEvent)
}

// Deps are the collaborators of a Registry. Recorder and Sink are optional.
type Deps struct {
	Catalog  Catalog
	Ports    PortPool
	Launcher Launcher
	Recorder Recorder
	Sink     EventSink
	// PublicHost is the address clients use to reach launched matches
	PublicHost string
}

// CreateParams are the host's choices for a new room
type CreateParams struct {
	GameID     int64
	Version    string
	Name       string
	MaxPlayers int
}

// Stats summarizes the open rooms
type Stats struct {
	Rooms   int `json:"rooms"`
	Waiting int `json:"waiting"`
	Playing int `json:"playing"`
	Players int `json:"players"`
}

// Registry is the table of open rooms.
//
// Locking: each room has its own mutex guarding its state. The index maps
// below are guarded by mu. A room mutex may be held while taking mu, never
// the other way around.
type Registry struct {
	catalog    Catalog
	ports      PortPool
	launcher   Launcher
	recorder   Recorder
	sink       EventSink
	publicHost string

	mu       sync.RWMutex
	rooms    map[string]*room // room id -> room
	codes    map[string]string // room code -> room id
	players  map[int64]string  // player id -> id of the open room they sit in
	shutdown bool

	matches sync.WaitGroup // running matches, done when their exit is handled
	saves   sync.WaitGroup // in-flight SaveRoom calls
}

// NewRegistry creates an empty registry
func NewRegistry(deps Deps) *Registry {
	host := deps.PublicHost
	if host == "" {
		host = "127.0.0.1"
	}
	return &Registry{
		catalog:    deps.Catalog,
		ports:      deps.Ports,
		launcher:   deps.Launcher,
		recorder:   deps.Recorder,
		sink:       deps.Sink,
		publicHost: host,
		rooms:      make(map[string]*room),
		codes:      make(map[string]string),
		players:    make(map[int64]string),
	}
}

// CreateRoom opens a waiting room with host as its only member and
// subscribes sub to it
func (reg *Registry) CreateRoom(ctx context.Context, host domain.Player, p CreateParams, sub Subscriber) (domain.Room, error) {
	game, err := reg.catalog.ValidateGame(ctx, p.GameID, p.Version)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Room{}, fmt.Errorf("%w: game %d version %q", ErrGameNotFound, p.GameID, p.Version)
		}
		return domain.Room{}, fmt.Errorf("validating game: %w", err)
	}

	maxPlayers := p.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = game.MaxPlayers
	}
	if maxPlayers < max(1, game.MinPlayers) || maxPlayers > game.MaxPlayers {
		return domain.Room{}, fmt.Errorf("%w: max players must be between %d and %d", ErrInvalidArgument, max(1, game.MinPlayers), game.MaxPlayers)
	}

	name := p.Name
	if name == "" {
		name = host.Username + "'s Room"
	}

	now := time.Now().UTC()
	r := newRoom(domain.Room{
		ID:          uuid.NewString(),
		Name:        name,
		GameID:      game.GameID,
		GameName:    game.GameName,
		GameVersion: game.Version,
		HostID:      host.ID,
		MinPlayers:  game.MinPlayers,
		MaxPlayers:  maxPlayers,
		Status:      domain.RoomWaiting,
		Members:     []domain.Member{{PlayerID: host.ID, Username: host.Username, JoinedAt: now}},
		CreatedAt:   now,
	})
	if sub != nil {
		r.subs[sub] = host.ID
	}

	// Lock the room before it becomes visible so "created" is its first event
	r.mu.Lock()
	defer r.mu.Unlock()

	reg.mu.Lock()
	if reg.shutdown {
		reg.mu.Unlock()
		return domain.Room{}, ErrShuttingDown
	}
	if other, ok := reg.players[host.ID]; ok {
		reg.mu.Unlock()
		return domain.Room{}, fmt.Errorf("%w: %s", ErrAlreadyMember, other)
	}
	code, err := reg.uniqueCodeLocked()
	if err != nil {
		reg.mu.Unlock()
		return domain.Room{}, err
	}
	r.state.Code = code
	reg.rooms[r.state.ID] = r
	reg.codes[code] = r.state.ID
	reg.players[host.ID] = r.state.ID
	reg.mu.Unlock()

	log.Printf("Room %s (%s) created by %s for %s v%s", r.state.ID, code, host.Username, game.GameName, game.Version)
	r.broadcast(reg.sink, domain.ReasonCreated)
	return r.snapshot(), nil
}

// uniqueCodeLocked must be called with reg.mu held
func (reg *Registry) uniqueCodeLocked() (string, error) {
	// Try up to 10 times to generate a unique code
	for range 10 {
		code, err := GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := reg.codes[code]; !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique room code after 10 attempts")
}

// JoinRoom seats player in the room with the given code and subscribes sub.
// Joining a room the player already sits in refreshes the subscription.
func (reg *Registry) JoinRoom(ctx context.Context, code string, player domain.Player, sub Subscriber) (domain.Room, error) {
	r, err := reg.byCode(code)
	if err != nil {
		return domain.Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}

	if r.state.HasMember(player.ID) {
		if sub != nil {
			r.subs[sub] = player.ID
			sub.Notify(r.event(domain.ReasonRefresh))
		}
		return r.snapshot(), nil
	}

	if r.state.Status != domain.RoomWaiting {
		return domain.Room{}, fmt.Errorf("%w: room is %s", ErrRoomNotJoinable, r.state.Status)
	}
	if len(r.state.Members) >= r.state.MaxPlayers {
		return domain.Room{}, fmt.Errorf("%w: %d of %d seats taken", ErrRoomFull, len(r.state.Members), r.state.MaxPlayers)
	}

	reg.mu.Lock()
	if other, ok := reg.players[player.ID]; ok {
		reg.mu.Unlock()
		return domain.Room{}, fmt.Errorf("%w: %s", ErrAlreadyMember, other)
	}
	reg.players[player.ID] = r.state.ID
	reg.mu.Unlock()

	r.state.Members = append(r.state.Members, domain.Member{
		PlayerID: player.ID,
		Username: player.Username,
		JoinedAt: time.Now().UTC(),
	})
	if sub != nil {
		r.subs[sub] = player.ID
	}

	log.Printf("Player %s joined room %s (%d/%d)", player.Username, r.state.ID, len(r.state.Members), r.state.MaxPlayers)
	r.broadcast(reg.sink, domain.ReasonPlayerJoined)
	return r.snapshot(), nil
}

// LeaveRoom removes a player from a room and unsubscribes all of the
// player's connections from it.
//
// In a waiting room the host leaving closes the room for everyone. In a
// playing room the player is only detached: the roster, status and port
// stay until the match process exits. Leaving a room that has already
// closed is a no-op.
func (reg *Registry) LeaveRoom(ctx context.Context, roomID string, playerID int64) (domain.Room, error) {
	r, err := reg.byID(roomID)
	if err != nil {
		return domain.Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return reg.leaveLocked(r, playerID)
}

// Disconnect drops sub from a room after its connection went away. The
// player leaves the room only if no other connection of theirs is still
// subscribed to it.
func (reg *Registry) Disconnect(ctx context.Context, roomID string, playerID int64, sub Subscriber) (domain.Room, error) {
	r, err := reg.byID(roomID)
	if err != nil {
		return domain.Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, sub)
	if r.closed {
		return r.snapshot(), nil
	}
	for _, id := range r.subs {
		if id == playerID {
			return r.snapshot(), nil
		}
	}
	return reg.leaveLocked(r, playerID)
}

// leaveLocked must be called with r.mu held
func (reg *Registry) leaveLocked(r *room, playerID int64) (domain.Room, error) {
	if r.closed {
		return r.snapshot(), nil
	}

	idx := r.memberIndex(playerID)
	if idx < 0 || r.state.Members[idx].Departed {
		r.unsubscribePlayer(playerID)
		return domain.Room{}, fmt.Errorf("%w: player %d in room %s", ErrNotMember, playerID, r.state.ID)
	}
	username := r.state.Members[idx].Username

	switch r.state.Status {
	case domain.RoomPlaying:
		r.state.Members[idx].Departed = true
		reg.releasePlayer(playerID, r.state.ID)
		log.Printf("Player %s detached from running match in room %s", username, r.state.ID)
		r.broadcast(reg.sink, domain.ReasonPlayerLeft)
		r.unsubscribePlayer(playerID)

	default:
		if playerID == r.state.HostID {
			log.Printf("Host %s left room %s - room closed", username, r.state.ID)
			reg.closeLocked(r, domain.CloseHostLeft, nil)
			return r.snapshot(), nil
		}

		r.state.Members = append(r.state.Members[:idx], r.state.Members[idx+1:]...)
		reg.releasePlayer(playerID, r.state.ID)
		log.Printf("Player %s left room %s", username, r.state.ID)
		r.broadcast(reg.sink, domain.ReasonPlayerLeft)
		r.unsubscribePlayer(playerID)

		if len(r.state.Members) == 0 {
			reg.closeLocked(r, domain.CloseEmpty, nil)
		}
	}
	return r.snapshot(), nil
}

// StartMatch leases a port, launches the game server with the current
// roster and moves the room to playing. Only the host may start. On any
// failure the room stays waiting and no port remains leased.
func (reg *Registry) StartMatch(ctx context.Context, roomID string, playerID int64) (domain.Room, error) {
	r, err := reg.byID(roomID)
	if err != nil {
		return domain.Room{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if playerID != r.state.HostID {
		return domain.Room{}, ErrNotHost
	}
	if r.state.Status == domain.RoomPlaying {
		return domain.Room{}, ErrMatchRunning
	}
	if n := len(r.state.Members); n < r.state.MinPlayers {
		return domain.Room{}, fmt.Errorf("%w: %d of %d required", ErrInsufficientPlayers, n, r.state.MinPlayers)
	}

	reg.mu.RLock()
	shutdown := reg.shutdown
	reg.mu.RUnlock()
	if shutdown {
		return domain.Room{}, ErrShuttingDown
	}

	port, err := reg.ports.Acquire(r.state.ID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("allocating port: %w", err)
	}

	m, err := reg.launcher.Launch(ctx, launcher.MatchSpec{
		RoomID:     r.state.ID,
		GameID:     r.state.GameID,
		GameName:   r.state.GameName,
		Version:    r.state.GameVersion,
		Port:       port,
		Players:    r.state.Usernames(),
		MinPlayers: r.state.MinPlayers,
		MaxPlayers: r.state.MaxPlayers,
	})
	if err != nil {
		reg.ports.Release(port)
		log.Printf("Failed to start match for room %s: %v", r.state.ID, err)
		return domain.Room{}, fmt.Errorf("starting match: %w", err)
	}

	r.epoch++
	epoch := r.epoch
	now := time.Now().UTC()
	r.match = m
	r.port = port
	r.state.Status = domain.RoomPlaying
	r.state.Port = &port
	r.state.Host = reg.publicHost
	r.state.StartedAt = &now

	reg.matches.Add(1)
	m.OnExit(func(status launcher.ExitStatus) {
		defer reg.matches.Done()
		reg.matchExited(r, epoch, status)
	})

	log.Printf("Match started for room %s on port %d", r.state.ID, port)
	r.broadcast(reg.sink, domain.ReasonMatchStarted)
	return r.snapshot(), nil
}

// StopMatch terminates the running match of a room. The room closes
// through the normal exit path once the process is gone.
func (reg *Registry) StopMatch(ctx context.Context, roomID string, playerID int64) error {
	r, err := reg.byID(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if playerID != r.state.HostID {
		r.mu.Unlock()
		return ErrNotHost
	}
	if r.state.Status != domain.RoomPlaying {
		r.mu.Unlock()
		return ErrNoMatch
	}
	m := r.match
	r.mu.Unlock()

	log.Printf("Stopping match for room %s", roomID)
	return m.Stop(ctx)
}

// matchExited is the exit callback of a launched match
func (reg *Registry) matchExited(r *room, epoch uint64, status launcher.ExitStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.epoch != epoch || r.state.Status != domain.RoomPlaying {
		log.Printf("Warning: ignoring stale exit notification for room %s", r.state.ID)
		return
	}

	reg.ports.Release(r.port)
	r.match = nil
	r.port = 0

	code := status.Code
	log.Printf("Match for room %s ended with %s", r.state.ID, status)
	reg.closeLocked(r, domain.CloseMatchEnded, &code)
}

// closeLocked moves r to closed, removes it from the indexes, tells every
// subscriber and persists the final state. r.mu must be held.
func (reg *Registry) closeLocked(r *room, reason string, exitCode *int) {
	now := time.Now().UTC()
	r.closed = true
	r.state.Status = domain.RoomClosed
	r.state.Port = nil
	r.state.Host = ""
	r.state.ClosedAt = &now
	r.state.CloseReason = reason
	r.state.ExitCode = exitCode

	reg.mu.Lock()
	delete(reg.rooms, r.state.ID)
	delete(reg.codes, r.state.Code)
	for _, m := range r.state.Members {
		if reg.players[m.PlayerID] == r.state.ID {
			delete(reg.players, m.PlayerID)
		}
	}
	reg.mu.Unlock()

	r.broadcast(reg.sink, domain.ReasonClosed)
	r.subs = make(map[Subscriber]int64)

	reg.persist(r.snapshot())
}

func (reg *Registry) persist(room domain.Room) {
	if reg.recorder == nil {
		return
	}
	reg.saves.Add(1)
	go func() {
		defer reg.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reg.recorder.SaveRoom(ctx, room); err != nil {
			log.Printf("Warning: failed to save room %s: %v", room.ID, err)
		}
	}()
}

// releasePlayer frees the player to join another room
func (reg *Registry) releasePlayer(playerID int64, roomID string) {
	reg.mu.Lock()
	if reg.players[playerID] == roomID {
		delete(reg.players, playerID)
	}
	reg.mu.Unlock()
}

func (reg *Registry) byID(roomID string) (*room, error) {
	reg.mu.RLock()
	r, ok := reg.rooms[roomID]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r, nil
}

func (reg *Registry) byCode(code string) (*room, error) {
	code = NormalizeCode(code)
	reg.mu.RLock()
	r, ok := reg.rooms[reg.codes[code]]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: code %s", ErrRoomNotFound, code)
	}
	return r, nil
}

// all returns the open rooms without holding any room lock
func (reg *Registry) all() []*room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	list := make([]*room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		list = append(list, r)
	}
	return list
}

// GetRoom returns a snapshot of an open room
func (reg *Registry) GetRoom(roomID string) (domain.Room, error) {
	r, err := reg.byID(roomID)
	if err != nil {
		return domain.Room{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return r.snapshot(), nil
}

// ListRooms returns open rooms oldest first. An empty status lists all.
func (reg *Registry) ListRooms(status domain.RoomStatus) []domain.Room {
	rooms := make([]domain.Room, 0)
	for _, r := range reg.all() {
		r.mu.Lock()
		if !r.closed && (status == "" || r.state.Status == status) {
			rooms = append(rooms, r.snapshot())
		}
		r.mu.Unlock()
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

// Stats counts open rooms and seated players
func (reg *Registry) Stats() Stats {
	var s Stats
	for _, r := range reg.all() {
		r.mu.Lock()
		if !r.closed {
			s.Rooms++
			switch r.state.Status {
			case domain.RoomWaiting:
				s.Waiting++
			case domain.RoomPlaying:
				s.Playing++
			}
			s.Players += r.activeCount()
		}
		r.mu.Unlock()
	}
	return s
}

// Shutdown refuses new rooms and matches, closes waiting rooms, stops
// every running match and waits for their rooms to close and persist
func (reg *Registry) Shutdown(ctx context.Context) error {
	reg.mu.Lock()
	reg.shutdown = true
	reg.mu.Unlock()

	log.Println("Registry: stopping...")

	var running []launcher.Match
	for _, r := range reg.all() {
		r.mu.Lock()
		switch {
		case r.closed:
		case r.state.Status == domain.RoomPlaying:
			running = append(running, r.match)
		default:
			reg.closeLocked(r, domain.CloseShutdown, nil)
		}
		r.mu.Unlock()
	}

	var stops sync.WaitGroup
	for _, m := range running {
		stops.Add(1)
		go func(m launcher.Match) {
			defer stops.Done()
			if err := m.Stop(ctx); err != nil {
				log.Printf("Warning: failed to stop match: %v", err)
			}
		}(m)
	}
	stops.Wait()

	if err := waitGroup(ctx, &reg.matches); err != nil {
		return fmt.Errorf("waiting for matches: %w", err)
	}
	if err := waitGroup(ctx, &reg.saves); err != nil {
		return fmt.Errorf("waiting for room saves: %w", err)
	}
	log.Println("Registry: shutdown complete")
	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
