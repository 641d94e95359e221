package events

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// Embedded is an in-process NATS server for single-binary deployments
type Embedded struct {
	srv *server.Server
}

// StartEmbedded runs a NATS server on host:port. Port -1 picks a free port.
func StartEmbedded(host string, port int) (*Embedded, error) {
	srv, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, errors.New("embedded NATS server did not become ready")
	}
	log.Printf("Embedded NATS server listening on %s", srv.ClientURL())
	return &Embedded{srv: srv}, nil
}

// ClientURL is the nats:// URL clients connect to
func (e *Embedded) ClientURL() string {
	return e.srv.ClientURL()
}

// Shutdown stops the server and waits for it to exit
func (e *Embedded) Shutdown() {
	e.srv.Shutdown()
	e.srv.WaitForShutdown()
}
