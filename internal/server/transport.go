package server

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/ernie/arcade/internal/protocol"
)

// Transport moves protocol messages over one client connection.
// ReadMessage is called from a single goroutine, WriteMessage from
// another. Close must unblock both.
type Transport interface {
	ReadMessage() (protocol.Message, error)
	WriteMessage(protocol.Message) error
	Close() error
	RemoteAddr() string
}

const writeWait = 10 * time.Second

// streamTransport frames messages over a byte stream such as TCP
type streamTransport struct {
	conn        net.Conn
	r           *bufio.Reader
	w           *bufio.Writer
	idleTimeout time.Duration
	closeOnce   sync.Once
}

// NewStreamTransport wraps a stream connection. A zero idleTimeout
// disables the read deadline.
func NewStreamTransport(conn net.Conn, idleTimeout time.Duration) Transport {
	return &streamTransport{
		conn:        conn,
		r:           bufio.NewReader(conn),
		w:           bufio.NewWriter(conn),
		idleTimeout: idleTimeout,
	}
}

func (t *streamTransport) ReadMessage() (protocol.Message, error) {
	if t.idleTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.idleTimeout))
	}
	return protocol.ReadMessage(t.r)
}

func (t *streamTransport) WriteMessage(m protocol.Message) error {
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := protocol.WriteMessage(t.w, m); err != nil {
		return err
	}
	return t.w.Flush()
}

func (t *streamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *streamTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
