package launcher

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is a spawned game server
type Process struct {
	cmd         *exec.Cmd
	roomID      string
	stopTimeout time.Duration
	done        chan struct{}

	mu        sync.Mutex
	exited    bool
	status    ExitStatus
	callbacks []func(ExitStatus)
}

func newProcess(cmd *exec.Cmd, roomID string, stopTimeout time.Duration) *Process {
	return &Process{
		cmd:         cmd,
		roomID:      roomID,
		stopTimeout: stopTimeout,
		done:        make(chan struct{}),
	}
}

// Pid returns the OS process id
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// OnExit registers cb to run once the process has exited. A callback
// registered after exit still runs, with the recorded status.
func (p *Process) OnExit(cb func(ExitStatus)) {
	p.mu.Lock()
	if p.exited {
		status := p.status
		p.mu.Unlock()
		go cb(status)
		return
	}
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// Done is closed when the process has exited
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop asks the process to terminate and kills it after the stop timeout
func (p *Process) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Printf("Warning: failed to signal game server for room %s: %v", p.roomID, err)
	}

	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		log.Printf("Game server for room %s ignored SIGTERM, killing", p.roomID)
	case <-ctx.Done():
	}

	p.kill()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) kill() {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Printf("Warning: failed to kill game server for room %s: %v", p.roomID, err)
	}
}

func (p *Process) exitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// wait is the single exit observer for the process
func (p *Process) wait() {
	err := p.cmd.Wait()

	status := ExitStatus{Code: -1, Err: err}
	if p.cmd.ProcessState != nil {
		status.Code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && status.Code >= 0 {
		// A plain non-zero exit is carried by Code alone
		status.Err = nil
	}

	p.mu.Lock()
	p.exited = true
	p.status = status
	callbacks := p.callbacks
	p.callbacks = nil
	p.mu.Unlock()

	log.Printf("Game server for room %s exited with %s", p.roomID, status)
	close(p.done)

	for _, cb := range callbacks {
		go cb(status)
	}
}

// lineLogger forwards process output to the log one line at a time
type lineLogger struct {
	prefix string
	mu     sync.Mutex
	buf    []byte
}

func newLineLogger(prefix string) *lineLogger {
	return &lineLogger{prefix: prefix}
}

func (w *lineLogger) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, b...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		log.Printf("%s%s", w.prefix, bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
	}
	// Flush runaway lines without a newline
	if len(w.buf) > 4096 {
		log.Printf("%s%s", w.prefix, w.buf)
		w.buf = w.buf[:0]
	}
	return len(b), nil
}
