package api

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ernie/arcade/internal/protocol"
	"github.com/ernie/arcade/internal/server"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// getClientIP extracts the real client IP, checking proxy headers first
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs, first is the client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (strip port if present)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// wsTransport carries one lobby frame per binary WebSocket message,
// without the stream length prefix
type wsTransport struct {
	conn       *websocket.Conn
	remoteAddr string
	done       chan struct{}
	closeOnce  sync.Once
}

func newWSTransport(conn *websocket.Conn, remoteAddr string) *wsTransport {
	t := &wsTransport{
		conn:       conn,
		remoteAddr: remoteAddr,
		done:       make(chan struct{}),
	}

	conn.SetReadLimit(protocol.MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go t.pingLoop()
	return t
}

// pingLoop keeps the read deadline moving on idle but healthy clients.
// WriteControl may run alongside the dispatcher's writer.
func (t *wsTransport) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) ReadMessage() (protocol.Message, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				return protocol.Message{}, io.EOF
			case errors.Is(err, websocket.ErrReadLimit):
				return protocol.Message{}, protocol.ErrFrameTooLarge
			}
			return protocol.Message{}, err
		}
		if mt != websocket.BinaryMessage {
			log.Printf("Warning: ignoring text message from %s", t.remoteAddr)
			continue
		}
		// any traffic counts as liveness
		t.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var m protocol.Message
		if err := m.UnmarshalBinary(data); err != nil {
			return protocol.Message{}, err
		}
		return m, nil
	}
}

func (t *wsTransport) WriteMessage(m protocol.Message) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) RemoteAddr() string {
	return t.remoteAddr
}

var _ server.Transport = (*wsTransport)(nil)

// handleWebSocket upgrades HTTP to WebSocket and serves the lobby
// protocol on it until the client goes away
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	r.dispatcher.ServeConn(r.baseCtx, newWSTransport(conn, getClientIP(req)))
}
