package launcher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLauncher installs script as the game server for game 1 version
// 1.0.0 and returns a launcher that runs it through /bin/sh
func newTestLauncher(t *testing.T, script string, grace time.Duration) (*Launcher, string) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	dir := t.TempDir()
	versionDir := filepath.Join(dir, "1", "1.0.0")
	require.NoError(t, os.MkdirAll(versionDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(versionDir, "game_server.sh"), []byte(script), 0o644))

	l := New(Config{
		GamesDir:     dir,
		Interpreter:  "/bin/sh",
		Entrypoint:   "game_server.sh",
		StartupGrace: grace,
		StopTimeout:  2 * time.Second,
	})
	return l, versionDir
}

func testSpec() MatchSpec {
	return MatchSpec{
		RoomID:     "room-1",
		GameID:     1,
		GameName:   "Connect4",
		Version:    "1.0.0",
		Port:       9100,
		Players:    []string{"alice", "bob"},
		MinPlayers: 2,
		MaxPlayers: 2,
	}
}

func waitExit(t *testing.T, m Match) ExitStatus {
	t.Helper()
	ch := make(chan ExitStatus, 1)
	m.OnExit(func(s ExitStatus) { ch <- s })
	select {
	case s := <-ch:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
		return ExitStatus{}
	}
}

func TestArgs(t *testing.T) {
	assert.Equal(t, []string{
		"--port", "9100",
		"--room-id", "room-1",
		"--players", "alice,bob",
		"--min-players", "2",
		"--max-players", "2",
		"--game-name", "Connect4",
	}, Args(testSpec()))
}

func TestLaunch_MissingExecutable(t *testing.T) {
	l := New(Config{GamesDir: t.TempDir(), Entrypoint: "game_server.py"})

	m, err := l.Launch(context.Background(), testSpec())
	require.Error(t, err)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, ErrExecutableNotFound)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.True(t, strings.HasSuffix(launchErr.Path, filepath.Join("1", "1.0.0", "game_server.py")))
}

func TestLaunch_SpawnFailure(t *testing.T) {
	l, _ := newTestLauncher(t, "exec sleep 30\n", 0)
	l.cfg.Interpreter = filepath.Join(t.TempDir(), "no-such-interpreter")

	_, err := l.Launch(context.Background(), testSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.NotErrorIs(t, err, ErrExecutableNotFound)
}

func TestLaunch_ExitDuringGrace(t *testing.T) {
	l, _ := newTestLauncher(t, "exit 3\n", 2*time.Second)

	_, err := l.Launch(context.Background(), testSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, ErrExitedEarly)
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestLaunch_PassesMatchConfig(t *testing.T) {
	l, dir := newTestLauncher(t, "echo \"$@\" > args.txt\necho \"$ARCADE_ROOM_ID\" > room.txt\nexec sleep 30\n", 500*time.Millisecond)

	m, err := l.Launch(context.Background(), testSpec())
	require.NoError(t, err)
	defer m.Stop(context.Background())

	assert.Greater(t, m.Pid(), 0)

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, strings.Join(Args(testSpec()), " "), strings.TrimSpace(string(args)))

	room, err := os.ReadFile(filepath.Join(dir, "room.txt"))
	require.NoError(t, err)
	assert.Equal(t, "room-1", strings.TrimSpace(string(room)))
}

func TestOnExit_ReportsCode(t *testing.T) {
	l, _ := newTestLauncher(t, "sleep 0.2\nexit 7\n", 0)

	m, err := l.Launch(context.Background(), testSpec())
	require.NoError(t, err)

	status := waitExit(t, m)
	assert.Equal(t, 7, status.Code)
	assert.NoError(t, status.Err)
	assert.False(t, status.Success())
}

func TestOnExit_AfterExitStillFires(t *testing.T) {
	l, _ := newTestLauncher(t, "exit 0\n", 0)

	m, err := l.Launch(context.Background(), testSpec())
	require.NoError(t, err)

	p := m.(*Process)
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}

	status := waitExit(t, m)
	assert.True(t, status.Success())
}

func TestStop_TerminatesProcess(t *testing.T) {
	l, _ := newTestLauncher(t, "exec sleep 30\n", 100*time.Millisecond)

	m, err := l.Launch(context.Background(), testSpec())
	require.NoError(t, err)

	exited := make(chan ExitStatus, 1)
	m.OnExit(func(s ExitStatus) { exited <- s })

	start := time.Now()
	require.NoError(t, m.Stop(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)

	select {
	case s := <-exited:
		assert.False(t, s.Success())
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not invoked")
	}

	// Stopping an exited process is a no-op
	assert.NoError(t, m.Stop(context.Background()))
}

func TestStop_KillsAfterTimeout(t *testing.T) {
	l, _ := newTestLauncher(t, "trap '' TERM\nwhile true; do sleep 0.1; done\n", 100*time.Millisecond)
	l.cfg.StopTimeout = 300 * time.Millisecond

	m, err := l.Launch(context.Background(), testSpec())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	status := waitExit(t, m)
	assert.Equal(t, -1, status.Code)
}

func TestLineLogger(t *testing.T) {
	w := newLineLogger("[test] ")
	n, err := w.Write([]byte("partial"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "partial", string(w.buf))

	_, err = w.Write([]byte(" line\nnext"))
	require.NoError(t, err)
	assert.Equal(t, "next", string(w.buf))
}
