// Package server accepts lobby connections and routes their requests to
// the room registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/ernie/arcade/internal/auth"
	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/lobby"
	"github.com/ernie/arcade/internal/protocol"
	"github.com/ernie/arcade/internal/session"
)

// RoomService is the part of the registry the dispatcher uses
type RoomService interface {
	CreateRoom(ctx context.Context, host domain.Player, p lobby.CreateParams, sub lobby.Subscriber) (domain.Room, error)
	JoinRoom(ctx context.Context, code string, player domain.Player, sub lobby.Subscriber) (domain.Room, error)
	LeaveRoom(ctx context.Context, roomID string, playerID int64) (domain.Room, error)
	Disconnect(ctx context.Context, roomID string, playerID int64, sub lobby.Subscriber) (domain.Room, error)
	StartMatch(ctx context.Context, roomID string, playerID int64) (domain.Room, error)
	StopMatch(ctx context.Context, roomID string, playerID int64) error
	ListRooms(status domain.RoomStatus) []domain.Room
}

// AccountService handles login and registration requests
type AccountService interface {
	Login(ctx context.Context, username, password string) (string, *domain.Player, error)
	Register(ctx context.Context, username, password string) (*domain.Player, error)
}

// DefaultQueueSize is the number of outbound frames buffered per connection
const DefaultQueueSize = 64

// Dispatcher serves lobby connections over any Transport
type Dispatcher struct {
	rooms     RoomService
	sessions  *session.Resolver
	accounts  AccountService
	queueSize int

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewDispatcher creates a dispatcher. accounts may be nil, in which case
// AUTH and REGISTER requests are refused.
func NewDispatcher(rooms RoomService, sessions *session.Resolver, accounts AccountService, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		rooms:     rooms,
		sessions:  sessions,
		accounts:  accounts,
		queueSize: queueSize,
		conns:     make(map[*conn]struct{}),
	}
}

// ConnectionCount returns the number of live connections
func (d *Dispatcher) ConnectionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// CloseAll closes every live connection
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	conns := make([]*conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// conn is one client connection. It is the lobby.Subscriber for every
// room the client created or joined.
type conn struct {
	t    Transport
	sess *session.Session

	send      chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.t.Close()
	})
}

// enqueue hands m to the writer. A full queue means the client is not
// reading; it is disconnected.
func (c *conn) enqueue(m protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- m:
		return true
	default:
		log.Printf("Send queue full for %s, disconnecting", c.t.RemoteAddr())
		c.close()
		return false
	}
}

// Notify implements lobby.Subscriber
func (c *conn) Notify(ev domain.RoomEvent) {
	if ev.Reason == domain.ReasonClosed {
		c.sess.Unsubscribe(ev.Room.ID)
	}
	m, err := protocol.NewMessage(protocol.TypeRoomUpdate, ev)
	if err != nil {
		log.Printf("Warning: %v", err)
		return
	}
	c.enqueue(m)
}

// writeLoop is the only writer of the transport. Once stop closes it
// flushes what is still queued and returns.
func (c *conn) writeLoop(stop <-chan struct{}) {
	for {
		select {
		case m := <-c.send:
			if err := c.t.WriteMessage(m); err != nil {
				c.close()
				return
			}
		case <-stop:
			c.drain()
			return
		case <-c.done:
			return
		}
	}
}

// ServeConn runs the request loop for one connection until it closes.
// Requests are handled one at a time; the implicit leave of subscribed
// rooms runs after the last request finished.
func (d *Dispatcher) ServeConn(ctx context.Context, t Transport) {
	c := &conn{
		t:    t,
		sess: d.sessions.NewSession(t.RemoteAddr()),
		send: make(chan protocol.Message, d.queueSize),
		done: make(chan struct{}),
	}

	d.mu.Lock()
	d.conns[c] = struct{}{}
	d.mu.Unlock()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(stop)
	}()

	log.Printf("Client connected: %s", t.RemoteAddr())

	for {
		msg, err := t.ReadMessage()
		if err != nil {
			if !isClosedErr(err) {
				log.Printf("Client %s: read error: %v", t.RemoteAddr(), err)
				if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrShortFrame) {
					d.reply(c, protocol.TypeError, errorResponse(fmt.Errorf("%w: %v", protocol.ErrMalformed, err)))
				}
			}
			break
		}
		resp, ok := d.handle(ctx, c, msg)
		if ok && !c.enqueue(resp) {
			break
		}
	}

	d.cleanup(ctx, c)

	close(stop)
	<-writerDone
	c.close()

	d.mu.Lock()
	delete(d.conns, c)
	d.mu.Unlock()

	log.Printf("Client disconnected: %s", t.RemoteAddr())
}

// drain writes whatever is still queued
func (c *conn) drain() {
	for {
		select {
		case m := <-c.send:
			if err := c.t.WriteMessage(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

// cleanup leaves every room the connection is still subscribed to
func (d *Dispatcher) cleanup(ctx context.Context, c *conn) {
	player, ok := c.sess.Player()
	if !ok {
		return
	}
	for _, roomID := range c.sess.Rooms() {
		if _, err := d.rooms.Disconnect(ctx, roomID, player.ID, c); err != nil && !errors.Is(err, lobby.ErrRoomNotFound) && !errors.Is(err, lobby.ErrNotMember) {
			log.Printf("Warning: cleanup of room %s for %s failed: %v", roomID, player.Username, err)
		}
		c.sess.Unsubscribe(roomID)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

func (d *Dispatcher) reply(c *conn, t protocol.MessageType, payload any) {
	m, err := protocol.NewMessage(t, payload)
	if err != nil {
		log.Printf("Warning: %v", err)
		return
	}
	c.enqueue(m)
}

// handle runs one request and returns the response frame
func (d *Dispatcher) handle(ctx context.Context, c *conn, msg protocol.Message) (protocol.Message, bool) {
	req, err := protocol.Decode(msg)
	if err != nil {
		return d.fail(err)
	}

	var player domain.Player
	if authed, ok := req.(protocol.Authenticated); ok {
		player, err = c.sess.Resolve(ctx, authed.Token())
		if err != nil {
			return d.fail(err)
		}
	}

	switch r := req.(type) {
	case *protocol.HeartbeatRequest:
		return protocol.Message{Type: protocol.TypeHeartbeat, Payload: msg.Payload}, true

	case *protocol.AuthRequest:
		return d.handleAuth(ctx, c, r)

	case *protocol.RegisterRequest:
		return d.handleRegister(ctx, r)

	case *protocol.LogoutRequest:
		d.cleanup(ctx, c)
		c.sess.Invalidate()
		return d.respond(protocol.TypeSuccess, map[string]bool{"success": true})

	case *protocol.RoomListRequest:
		status := domain.RoomStatus(r.Status)
		switch status {
		case "", domain.RoomWaiting, domain.RoomPlaying:
		default:
			return d.fail(fmt.Errorf("%w: unknown room status %q", protocol.ErrMalformed, r.Status))
		}
		rooms := d.rooms.ListRooms(status)
		list := protocol.RoomListResponse{Rooms: make([]protocol.RoomSummary, 0, len(rooms))}
		for _, room := range rooms {
			list.Rooms = append(list.Rooms, protocol.Summarize(room))
		}
		return d.respond(protocol.TypeRoomListResponse, list)

	case *protocol.CreateRoomRequest:
		room, err := d.rooms.CreateRoom(ctx, player, lobby.CreateParams{
			GameID:     r.GameID,
			Version:    r.Version,
			Name:       r.Name,
			MaxPlayers: r.MaxPlayers,
		}, c)
		if err != nil {
			return d.fail(err)
		}
		c.sess.Subscribe(room.ID)
		return d.respond(protocol.TypeRoomCreated, roomResponse(room))

	case *protocol.JoinRoomRequest:
		room, err := d.rooms.JoinRoom(ctx, r.RoomCode, player, c)
		if err != nil {
			return d.fail(err)
		}
		c.sess.Subscribe(room.ID)
		return d.respond(protocol.TypeRoomJoined, roomResponse(room))

	case *protocol.LeaveRoomRequest:
		_, err := d.rooms.LeaveRoom(ctx, r.RoomID, player.ID)
		c.sess.Unsubscribe(r.RoomID)
		if err != nil {
			return d.fail(err)
		}
		return d.respond(protocol.TypeSuccess, map[string]any{"success": true, "left": true, "room_id": r.RoomID})

	case *protocol.StartGameRequest:
		room, err := d.rooms.StartMatch(ctx, r.RoomID, player.ID)
		if err != nil {
			return d.fail(err)
		}
		return d.respond(protocol.TypeGameStarted, protocol.GameStarted{
			RoomID:   room.ID,
			GameName: room.GameName,
			Host:     room.Host,
			Port:     *room.Port,
		})

	case *protocol.StopGameRequest:
		if err := d.rooms.StopMatch(ctx, r.RoomID, player.ID); err != nil {
			return d.fail(err)
		}
		return d.respond(protocol.TypeSuccess, map[string]any{"success": true, "room_id": r.RoomID})
	}

	return d.fail(fmt.Errorf("%w: %s", protocol.ErrUnknownType, msg.Type))
}

func (d *Dispatcher) handleAuth(ctx context.Context, c *conn, r *protocol.AuthRequest) (protocol.Message, bool) {
	if d.accounts == nil {
		return d.fail(errors.New("accounts are not available"))
	}
	token, player, err := d.accounts.Login(ctx, r.Username, r.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return d.respond(protocol.TypeAuthResponse, protocol.AuthResponse{Success: false, Error: "Invalid credentials"})
		}
		return d.fail(err)
	}
	if _, err := c.sess.Resolve(ctx, token); err != nil {
		return d.fail(err)
	}
	log.Printf("Player %s authenticated on %s", player.Username, c.t.RemoteAddr())
	return d.respond(protocol.TypeAuthResponse, protocol.AuthResponse{
		Success:      true,
		UserID:       player.ID,
		Username:     player.Username,
		SessionToken: token,
	})
}

func (d *Dispatcher) handleRegister(ctx context.Context, r *protocol.RegisterRequest) (protocol.Message, bool) {
	if d.accounts == nil {
		return d.fail(errors.New("accounts are not available"))
	}
	player, err := d.accounts.Register(ctx, r.Username, r.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			return d.respond(protocol.TypeRegisterResponse, protocol.RegisterResponse{Success: false, Error: "Username already exists"})
		}
		return d.fail(err)
	}
	return d.respond(protocol.TypeRegisterResponse, protocol.RegisterResponse{
		Success:  true,
		UserID:   player.ID,
		Username: player.Username,
	})
}

func roomResponse(room domain.Room) protocol.RoomResponse {
	return protocol.RoomResponse{
		Success:  true,
		RoomID:   room.ID,
		RoomCode: room.Code,
		RoomName: room.Name,
		Room:     room,
	}
}

func (d *Dispatcher) respond(t protocol.MessageType, payload any) (protocol.Message, bool) {
	m, err := protocol.NewMessage(t, payload)
	if err != nil {
		log.Printf("Warning: %v", err)
		return protocol.Message{}, false
	}
	return m, true
}

func (d *Dispatcher) fail(err error) (protocol.Message, bool) {
	return d.respond(protocol.TypeError, errorResponse(err))
}
