package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/launcher"
	"github.com/ernie/arcade/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCatalog knows game 1 (2-4 players) and game 2 (1-1 players)
type fakeCatalog struct{}

func (fakeCatalog) ValidateGame(ctx context.Context, gameID int64, version string) (*domain.GameVersion, error) {
	switch gameID {
	case 1:
		if version != "" && version != "1.0.0" {
			return nil, domain.ErrNotFound
		}
		return &domain.GameVersion{GameID: 1, GameName: "Tic Tac Toe", Version: "1.0.0", MinPlayers: 2, MaxPlayers: 4}, nil
	case 2:
		return &domain.GameVersion{GameID: 2, GameName: "Solitaire", Version: "0.1.0", MinPlayers: 1, MaxPlayers: 1}, nil
	}
	return nil, domain.ErrNotFound
}

type fakeMatch struct {
	pid int

	mu        sync.Mutex
	exited    bool
	status    launcher.ExitStatus
	callbacks []func(launcher.ExitStatus)
	stops     int
}

func (m *fakeMatch) Pid() int { return m.pid }

func (m *fakeMatch) OnExit(cb func(launcher.ExitStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		go cb(m.status)
		return
	}
	m.callbacks = append(m.callbacks, cb)
}

func (m *fakeMatch) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	m.exit(-1)
	return nil
}

// exit simulates the process ending; only the first call has an effect
func (m *fakeMatch) exit(code int) {
	m.mu.Lock()
	if m.exited {
		m.mu.Unlock()
		return
	}
	m.exited = true
	m.status = launcher.ExitStatus{Code: code}
	cbs := m.callbacks
	m.callbacks = nil
	m.mu.Unlock()
	for _, cb := range cbs {
		go cb(launcher.ExitStatus{Code: code})
	}
}

// fireAgain delivers a duplicate exit notification
func (m *fakeMatch) fireAgain(cb func(launcher.ExitStatus)) {
	cb(m.status)
}

type fakeLauncher struct {
	mu      sync.Mutex
	fail    error
	specs   []launcher.MatchSpec
	matches []*fakeMatch
	delay   time.Duration
}

func (l *fakeLauncher) Launch(ctx context.Context, spec launcher.MatchSpec) (launcher.Match, error) {
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.fail != nil {
		return nil, l.fail
	}
	m := &fakeMatch{pid: 1000 + len(l.matches)}
	l.matches = append(l.matches, m)
	return m, nil
}

func (l *fakeLauncher) launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.matches)
}

func (l *fakeLauncher) match(i int) *fakeMatch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.matches[i]
}

type fakeRecorder struct {
	mu    sync.Mutex
	rooms []domain.Room
}

func (r *fakeRecorder) SaveRoom(ctx context.Context, room domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = append(r.rooms, room)
	return nil
}

func (r *fakeRecorder) saved() []domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Room(nil), r.rooms...)
}

// recorder is a Subscriber that keeps every event
type recorder struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (s *recorder) Notify(ev domain.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recorder) all() []domain.RoomEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RoomEvent(nil), s.events...)
}

func (s *recorder) reasons() []string {
	var out []string
	for _, ev := range s.all() {
		out = append(out, ev.Reason)
	}
	return out
}

func (s *recorder) last() domain.RoomEvent {
	evs := s.all()
	if len(evs) == 0 {
		return domain.RoomEvent{}
	}
	return evs[len(evs)-1]
}

type fixture struct {
	reg      *Registry
	ports    *ports.Allocator
	launcher *fakeLauncher
	saves    *fakeRecorder
}

func newFixture(t *testing.T, first, last int) *fixture {
	t.Helper()
	alloc, err := ports.New(first, last)
	require.NoError(t, err)
	f := &fixture{
		ports:    alloc,
		launcher: &fakeLauncher{},
		saves:    &fakeRecorder{},
	}
	f.reg = NewRegistry(Deps{
		Catalog:    fakeCatalog{},
		Ports:      alloc,
		Launcher:   f.launcher,
		Recorder:   f.saves,
		PublicHost: "games.test",
	})
	return f
}

var (
	alice = domain.Player{ID: 1, Username: "alice"}
	bob   = domain.Player{ID: 2, Username: "bob"}
	carol = domain.Player{ID: 3, Username: "carol"}
	dave  = domain.Player{ID: 4, Username: "dave"}
	erin  = domain.Player{ID: 5, Username: "erin"}
)

func (f *fixture) create(t *testing.T, host domain.Player, sub Subscriber) domain.Room {
	t.Helper()
	room, err := f.reg.CreateRoom(context.Background(), host, CreateParams{GameID: 1}, sub)
	require.NoError(t, err)
	return room
}

func (f *fixture) join(t *testing.T, code string, p domain.Player, sub Subscriber) domain.Room {
	t.Helper()
	room, err := f.reg.JoinRoom(context.Background(), code, p, sub)
	require.NoError(t, err)
	return room
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	sub := &recorder{}

	room := f.create(t, alice, sub)

	assert.NotEmpty(t, room.ID)
	assert.Len(t, room.Code, codeLength)
	assert.Equal(t, "alice's Room", room.Name)
	assert.Equal(t, domain.RoomWaiting, room.Status)
	assert.Equal(t, 2, room.MinPlayers)
	assert.Equal(t, 4, room.MaxPlayers)
	assert.Equal(t, "1.0.0", room.GameVersion)
	assert.Equal(t, alice.ID, room.HostID)
	require.Len(t, room.Members, 1)
	assert.Equal(t, "alice", room.Members[0].Username)
	assert.Nil(t, room.Port)

	assert.Equal(t, []string{domain.ReasonCreated}, sub.reasons())
	assert.Equal(t, uint64(1), sub.last().Seq)
}

func TestCreateRoom_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  CreateParams
		wantErr error
	}{
		{"unknown game", CreateParams{GameID: 99}, ErrGameNotFound},
		{"unknown version", CreateParams{GameID: 1, Version: "9.9.9"}, ErrGameNotFound},
		{"below minimum", CreateParams{GameID: 1, MaxPlayers: 1}, ErrInvalidArgument},
		{"above maximum", CreateParams{GameID: 1, MaxPlayers: 5}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 9000, 9001)
			_, err := f.reg.CreateRoom(context.Background(), alice, tt.params, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.reg.ListRooms(""))
		})
	}
}

func TestCreateRoom_CustomNameAndSize(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room, err := f.reg.CreateRoom(context.Background(), alice, CreateParams{GameID: 1, Version: "1.0.0", Name: "Friday", MaxPlayers: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Friday", room.Name)
	assert.Equal(t, 2, room.MaxPlayers)
}

func TestCreateRoom_HostAlreadyInRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	f.create(t, alice, nil)

	_, err := f.reg.CreateRoom(context.Background(), alice, CreateParams{GameID: 1}, nil)
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.Len(t, f.reg.ListRooms(""), 1)
}

func TestJoinRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	hostSub, bobSub := &recorder{}, &recorder{}
	room := f.create(t, alice, hostSub)

	joined := f.join(t, " "+strings.ToLower(room.Code)+" ", bob, bobSub)

	assert.Equal(t, []string{"alice", "bob"}, joined.Usernames())
	assert.Equal(t, []string{domain.ReasonCreated, domain.ReasonPlayerJoined}, hostSub.reasons())
	assert.Equal(t, []string{domain.ReasonPlayerJoined}, bobSub.reasons())
	assert.Equal(t, hostSub.last().Seq, bobSub.last().Seq)
}

func TestJoinRoom_Errors(t *testing.T) {
	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(t, 9000, 9001)
		_, err := f.reg.JoinRoom(context.Background(), "ZZZZZZ", bob, nil)
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("full", func(t *testing.T) {
		f := newFixture(t, 9000, 9001)
		room := f.create(t, alice, nil)
		f.join(t, room.Code, bob, nil)
		f.join(t, room.Code, carol, nil)
		f.join(t, room.Code, dave, nil)

		_, err := f.reg.JoinRoom(context.Background(), room.Code, erin, nil)
		assert.ErrorIs(t, err, ErrRoomFull)

		got, err := f.reg.GetRoom(room.ID)
		require.NoError(t, err)
		assert.Len(t, got.Members, 4)
	})

	t.Run("playing", func(t *testing.T) {
		f := newFixture(t, 9000, 9001)
		room := f.create(t, alice, nil)
		f.join(t, room.Code, bob, nil)
		_, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
		require.NoError(t, err)

		_, err = f.reg.JoinRoom(context.Background(), room.Code, carol, nil)
		assert.ErrorIs(t, err, ErrRoomNotJoinable)
	})

	t.Run("member of another room", func(t *testing.T) {
		f := newFixture(t, 9000, 9001)
		first := f.create(t, alice, nil)
		second := f.create(t, bob, nil)
		f.join(t, first.Code, carol, nil)

		_, err := f.reg.JoinRoom(context.Background(), second.Code, carol, nil)
		assert.ErrorIs(t, err, ErrAlreadyMember)
	})
}

func TestJoinRoom_DuplicateIsRefresh(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room := f.create(t, alice, nil)
	f.join(t, room.Code, bob, &recorder{})

	reconnected := &recorder{}
	again := f.join(t, room.Code, bob, reconnected)

	assert.Len(t, again.Members, 2)
	assert.Equal(t, []string{domain.ReasonRefresh}, reconnected.reasons())

	// The refreshed subscription receives later broadcasts
	f.join(t, room.Code, carol, nil)
	assert.Equal(t, domain.ReasonPlayerJoined, reconnected.last().Reason)
}

func TestLeaveRoom_Member(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	hostSub, bobSub := &recorder{}, &recorder{}
	room := f.create(t, alice, hostSub)
	f.join(t, room.Code, bob, bobSub)

	left, err := f.reg.LeaveRoom(context.Background(), room.ID, bob.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, left.Usernames())
	assert.Equal(t, domain.ReasonPlayerLeft, hostSub.last().Reason)
	assert.Equal(t, domain.ReasonPlayerLeft, bobSub.last().Reason)

	// bob is unsubscribed and free to join elsewhere
	f.join(t, room.Code, carol, nil)
	assert.Equal(t, domain.ReasonPlayerLeft, bobSub.last().Reason)
	other := f.create(t, bob, nil)
	assert.Equal(t, domain.RoomWaiting, other.Status)
}

func TestLeaveRoom_HostClosesWaitingRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	bobSub := &recorder{}
	room := f.create(t, alice, nil)
	f.join(t, room.Code, bob, bobSub)
	f.join(t, room.Code, carol, nil)

	closed, err := f.reg.LeaveRoom(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RoomClosed, closed.Status)
	assert.Equal(t, domain.CloseHostLeft, closed.CloseReason)
	assert.Equal(t, domain.ReasonClosed, bobSub.last().Reason)
	assert.Equal(t, domain.RoomClosed, bobSub.last().Room.Status)

	_, err = f.reg.GetRoom(room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = f.reg.JoinRoom(context.Background(), room.Code, dave, nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// evicted members can join other rooms
	other := f.create(t, dave, nil)
	f.join(t, other.Code, bob, nil)
	f.join(t, other.Code, carol, nil)

	require.Eventually(t, func() bool { return len(f.saves.saved()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, room.ID, f.saves.saved()[0].ID)
}

func TestLeaveRoom_LastMemberClosesRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room, err := f.reg.CreateRoom(context.Background(), alice, CreateParams{GameID: 2}, nil)
	require.NoError(t, err)

	closed, err := f.reg.LeaveRoom(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomClosed, closed.Status)
	assert.Empty(t, f.reg.ListRooms(""))
}

func TestLeaveRoom_NotMember(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room := f.create(t, alice, nil)

	_, err := f.reg.LeaveRoom(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.reg.LeaveRoom(context.Background(), "no-such-room", alice.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestStartMatch(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	bobSub := &recorder{}
	room := f.create(t, alice, nil)
	f.join(t, room.Code, bob, bobSub)

	started, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.RoomPlaying, started.Status)
	require.NotNil(t, started.Port)
	assert.Equal(t, 9000, *started.Port)
	assert.Equal(t, "games.test", started.Host)
	assert.NotNil(t, started.StartedAt)
	assert.Equal(t, 1, f.ports.Free())

	spec := f.launcher.specs[0]
	assert.Equal(t, room.ID, spec.RoomID)
	assert.Equal(t, 9000, spec.Port)
	assert.Equal(t, []string{"alice", "bob"}, spec.Players)
	assert.Equal(t, "Tic Tac Toe", spec.GameName)

	ev := bobSub.last()
	assert.Equal(t, domain.ReasonMatchStarted, ev.Reason)
	require.NotNil(t, ev.Room.Port)
	assert.Equal(t, 9000, *ev.Room.Port)
}

func TestStartMatch_Errors(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room := f.create(t, alice, nil)

	_, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	assert.ErrorIs(t, err, ErrInsufficientPlayers)

	f.join(t, room.Code, bob, nil)
	_, err = f.reg.StartMatch(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotHost)

	_, err = f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	assert.ErrorIs(t, err, ErrMatchRunning)

	assert.Equal(t, 1, f.launcher.launched())
}

func TestStartMatch_LaunchFailureReleasesPort(t *testing.T) {
	f := newFixture(t, 9000, 9000)
	f.launcher.fail = &launcher.LaunchError{Path: "/games/1/1.0.0/game_server.py", Err: launcher.ErrExecutableNotFound}
	sub := &recorder{}
	room := f.create(t, alice, sub)
	f.join(t, room.Code, bob, nil)

	_, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	assert.ErrorIs(t, err, launcher.ErrLaunch)
	assert.ErrorIs(t, err, launcher.ErrExecutableNotFound)

	got, err := f.reg.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomWaiting, got.Status)
	assert.Nil(t, got.Port)
	assert.Equal(t, 1, f.ports.Free())
	assert.NotContains(t, sub.reasons(), domain.ReasonMatchStarted)

	// The room can start once the game is fixed
	f.launcher.fail = nil
	started, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 9000, *started.Port)
}

func TestStartMatch_PortsExhausted(t *testing.T) {
	f := newFixture(t, 9000, 9000)
	first := f.create(t, alice, nil)
	f.join(t, first.Code, bob, nil)
	second := f.create(t, carol, nil)
	f.join(t, second.Code, dave, nil)

	_, err := f.reg.StartMatch(context.Background(), first.ID, alice.ID)
	require.NoError(t, err)

	_, err = f.reg.StartMatch(context.Background(), second.ID, carol.ID)
	assert.ErrorIs(t, err, ports.ErrExhausted)

	got, err := f.reg.GetRoom(second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomWaiting, got.Status)
	assert.Equal(t, 1, f.launcher.launched())
}

func TestStartMatch_ConcurrentStartsLaunchOnce(t *testing.T) {
	f := newFixture(t, 9000, 9010)
	f.launcher.delay = 10 * time.Millisecond
	room := f.create(t, alice, nil)
	f.join(t, room.Code, bob, nil)

	var wg sync.WaitGroup
	var successes atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID); err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrMatchRunning)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 1, f.launcher.launched())
	assert.Equal(t, 10, f.ports.Free())
}

func TestMatchExit_ClosesRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	sub := &recorder{}
	room := f.create(t, alice, sub)
	f.join(t, room.Code, bob, nil)
	_, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)

	f.launcher.match(0).exit(3)

	require.Eventually(t, func() bool { return sub.last().Reason == domain.ReasonClosed }, time.Second, 5*time.Millisecond)
	ev := sub.last()
	assert.Equal(t, domain.RoomClosed, ev.Room.Status)
	assert.Equal(t, domain.CloseMatchEnded, ev.Room.CloseReason)
	require.NotNil(t, ev.Room.ExitCode)
	assert.Equal(t, 3, *ev.Room.ExitCode)
	assert.Nil(t, ev.Room.Port)

	assert.Equal(t, 2, f.ports.Free())
	assert.Empty(t, f.reg.ListRooms(""))
	require.Eventually(t, func() bool { return len(f.saves.saved()) == 1 }, time.Second, 5*time.Millisecond)

	// players are free again
	f.create(t, bob, nil)
}

func TestMatchExit_DuplicateNotificationIsNoop(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	sub := &recorder{}
	room := f.create(t, alice, sub)
	f.join(t, room.Code, bob, nil)
	_, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)

	r, err := f.reg.byID(room.ID)
	require.NoError(t, err)

	f.launcher.match(0).exit(0)
	require.Eventually(t, func() bool { return sub.last().Reason == domain.ReasonClosed }, time.Second, 5*time.Millisecond)
	count := len(sub.all())

	// A second notification for the same epoch must not release the port again
	other := f.create(t, carol, nil)
	f.join(t, other.Code, dave, nil)
	started, err := f.reg.StartMatch(context.Background(), other.ID, carol.ID)
	require.NoError(t, err)

	f.reg.matches.Add(1)
	f.launcher.match(0).fireAgain(func(st launcher.ExitStatus) {
		defer f.reg.matches.Done()
		f.reg.matchExited(r, 1, st)
	})

	assert.Len(t, sub.all(), count)
	assert.Equal(t, 1, f.ports.Free())
	leases := f.ports.Leases()
	require.Len(t, leases, 1)
	assert.Equal(t, *started.Port, leases[0].Port)
	assert.Equal(t, other.ID, leases[0].Owner)
}

func TestLeaveDuringPlaying(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	hostSub, bobSub := &recorder{}, &recorder{}
	room := f.create(t, alice, hostSub)
	f.join(t, room.Code, bob, bobSub)
	started, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)

	// Host leaving a playing room does not stop the match
	after, err := f.reg.LeaveRoom(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomPlaying, after.Status)
	require.NotNil(t, after.Port)
	assert.Equal(t, *started.Port, *after.Port)
	assert.Len(t, after.Members, 2)
	assert.True(t, after.Members[0].Departed)
	assert.Equal(t, domain.ReasonPlayerLeft, bobSub.last().Reason)

	// The departed host may open a new room meanwhile
	f.create(t, alice, nil)

	hostEvents := len(hostSub.all())
	f.launcher.match(0).exit(0)
	require.Eventually(t, func() bool { return bobSub.last().Reason == domain.ReasonClosed }, time.Second, 5*time.Millisecond)
	assert.Len(t, hostSub.all(), hostEvents, "unsubscribed host should not see the close")

	// Leaving after the close is a no-op
	closed, err := f.reg.LeaveRoom(context.Background(), room.ID, bob.ID)
	if err != nil {
		assert.ErrorIs(t, err, ErrRoomNotFound)
	} else {
		assert.Equal(t, domain.RoomClosed, closed.Status)
	}
}

func TestLeaveRacingExit(t *testing.T) {
	for i := range 20 {
		t.Run(fmt.Sprintf("run%d", i), func(t *testing.T) {
			f := newFixture(t, 9000, 9001)
			sub := &recorder{}
			room := f.create(t, alice, nil)
			f.join(t, room.Code, bob, sub)
			_, err := f.reg.StartMatch(context.Background(), room.ID, alice.ID)
			require.NoError(t, err)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				f.launcher.match(0).exit(0)
			}()
			go func() {
				defer wg.Done()
				_, err := f.reg.LeaveRoom(context.Background(), room.ID, alice.ID)
				if err != nil {
					assert.ErrorIs(t, err, ErrRoomNotFound)
				}
			}()
			wg.Wait()

			require.Eventually(t, func() bool { return len(f.reg.ListRooms("")) == 0 }, time.Second, 5*time.Millisecond)
			assert.Equal(t, 2, f.ports.Free())

			closes := 0
			var prev uint64
			for _, ev := range sub.all() {
				assert.Greater(t, ev.Seq, prev)
				prev = ev.Seq
				if ev.Reason == domain.ReasonClosed {
					closes++
				}
			}
			assert.Equal(t, 1, closes)
		})
	}
}

func TestStopMatch(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	sub := &recorder{}
	room := f.create(t, alice, sub)
	f.join(t, room.Code, bob, nil)

	err := f.reg.StopMatch(context.Background(), room.ID, alice.ID)
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = f.reg.StartMatch(context.Background(), room.ID, alice.ID)
	require.NoError(t, err)

	err = f.reg.StopMatch(context.Background(), room.ID, bob.ID)
	assert.ErrorIs(t, err, ErrNotHost)

	require.NoError(t, f.reg.StopMatch(context.Background(), room.ID, alice.ID))
	require.Eventually(t, func() bool { return sub.last().Reason == domain.ReasonClosed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, -1, *sub.last().Room.ExitCode)
	assert.Equal(t, 2, f.ports.Free())
}

func TestEventOrdering(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	sub := &recorder{}
	room := f.create(t, alice, sub)

	var wg sync.WaitGroup
	for _, p := range []domain.Player{bob, carol, dave} {
		wg.Add(1)
		go func(p domain.Player) {
			defer wg.Done()
			_, err := f.reg.JoinRoom(context.Background(), room.Code, p, nil)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	evs := sub.all()
	require.Len(t, evs, 4)
	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Len(t, ev.Room.Members, i+1)
	}
}

func TestListRoomsAndStats(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	first := f.create(t, alice, nil)
	f.join(t, first.Code, bob, nil)
	time.Sleep(time.Millisecond)
	second := f.create(t, carol, nil)

	_, err := f.reg.StartMatch(context.Background(), first.ID, alice.ID)
	require.NoError(t, err)

	all := f.reg.ListRooms("")
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	waiting := f.reg.ListRooms(domain.RoomWaiting)
	require.Len(t, waiting, 1)
	assert.Equal(t, second.ID, waiting[0].ID)

	assert.Equal(t, Stats{Rooms: 2, Waiting: 1, Playing: 1, Players: 3}, f.reg.Stats())
}

func TestSnapshotIsolation(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room := f.create(t, alice, nil)
	room.Members[0].Username = "mallory"

	got, err := f.reg.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Members[0].Username)
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	waitingSub, playingSub := &recorder{}, &recorder{}
	f.create(t, alice, waitingSub)
	playing := f.create(t, bob, playingSub)
	f.join(t, playing.Code, carol, nil)
	_, err := f.reg.StartMatch(context.Background(), playing.ID, bob.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.reg.Shutdown(ctx))

	assert.Empty(t, f.reg.ListRooms(""))
	assert.Equal(t, 2, f.ports.Free())
	assert.Equal(t, domain.CloseShutdown, waitingSub.last().Room.CloseReason)
	assert.Equal(t, domain.CloseMatchEnded, playingSub.last().Room.CloseReason)
	assert.Len(t, f.saves.saved(), 2)
	assert.Equal(t, 1, f.launcher.match(0).stops)

	_, err = f.reg.CreateRoom(context.Background(), dave, CreateParams{GameID: 1}, nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestGameNotFoundWrapsCatalogErrors(t *testing.T) {
	reg := NewRegistry(Deps{Catalog: brokenCatalog{}})
	_, err := reg.CreateRoom(context.Background(), alice, CreateParams{GameID: 1}, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrGameNotFound))
	assert.Contains(t, err.Error(), "validating game")
}

type brokenCatalog struct{}

func (brokenCatalog) ValidateGame(ctx context.Context, gameID int64, version string) (*domain.GameVersion, error) {
	return nil, errors.New("database is locked")
}

func TestDisconnect_OtherConnectionKeepsSeat(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	room := f.create(t, alice, nil)
	oldConn, newConn := &recorder{}, &recorder{}
	f.join(t, room.Code, bob, oldConn)
	f.join(t, room.Code, bob, newConn)

	got, err := f.reg.Disconnect(context.Background(), room.ID, bob.ID, oldConn)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Usernames())

	// The last connection going away is an implicit leave
	got, err = f.reg.Disconnect(context.Background(), room.ID, bob.ID, newConn)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Usernames())
}

func TestDisconnect_HostClosesWaitingRoom(t *testing.T) {
	f := newFixture(t, 9000, 9001)
	hostConn, bobConn := &recorder{}, &recorder{}
	room := f.create(t, alice, hostConn)
	f.join(t, room.Code, bob, bobConn)

	got, err := f.reg.Disconnect(context.Background(), room.ID, alice.ID, hostConn)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomClosed, got.Status)
	assert.Equal(t, domain.ReasonClosed, bobConn.last().Reason)
	assert.NotEqual(t, domain.ReasonClosed, hostConn.last().Reason)
}
