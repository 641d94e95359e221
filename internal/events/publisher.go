// Package events mirrors room events onto NATS subjects of the form
// <prefix>.<room id>.<reason>.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ernie/arcade/internal/domain"
	"github.com/nats-io/nats.go"
)

// Publisher sends room events to NATS. It satisfies lobby.EventSink.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the NATS server at url
func Connect(url, prefix string, opts ...nats.Option) (*Publisher, error) {
	opts = append([]nats.Option{
		nats.Name("arcade"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("Warning: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event is published on
func (p *Publisher) Subject(ev domain.RoomEvent) string {
	return p.prefix + "." + ev.Room.ID + "." + ev.Reason
}

// Publish sends ev. Failures are logged; NATS buffers while reconnecting
// so this does not block the caller.
func (p *Publisher) Publish(ev domain.RoomEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Warning: failed to encode room event: %v", err)
		return
	}
	if err := p.nc.Publish(p.Subject(ev), data); err != nil {
		log.Printf("Warning: failed to publish room event for %s: %v", ev.Room.ID, err)
	}
}

// Subscribe delivers every room event under the prefix to fn
func (p *Publisher) Subscribe(fn func(subject string, ev domain.RoomEvent)) (*nats.Subscription, error) {
	return p.nc.Subscribe(p.prefix+".>", func(msg *nats.Msg) {
		var ev domain.RoomEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("Warning: ignoring malformed event on %s: %v", msg.Subject, err)
			return
		}
		fn(msg.Subject, ev)
	})
}

// Flush waits until the server has processed everything published so far
func (p *Publisher) Flush(timeout time.Duration) error {
	return p.nc.FlushTimeout(timeout)
}

// Close flushes pending events and closes the connection
func (p *Publisher) Close() {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		log.Printf("Warning: failed to flush NATS connection: %v", err)
	}
	p.nc.Close()
}
