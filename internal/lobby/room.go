package lobby

import (
	"sync"
	"time"

	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/launcher"
)

// Subscriber receives room events. Notify is called with the room locked
// and must not block or call back into the Registry.
type Subscriber interface {
	Notify(domain.RoomEvent)
}

// room is one registry entry. Every field is guarded by mu, which is the
// single serialization point for client operations and exit notifications.
type room struct {
	mu sync.Mutex

	state  domain.Room
	subs   map[Subscriber]int64 // subscriber -> player id
	match  launcher.Match
	port   int    // leased port while playing
	epoch  uint64 // incremented per launched match
	seq    uint64 // last broadcast sequence number
	closed bool
}

func newRoom(state domain.Room) *room {
	return &room{
		state: state,
		subs:  make(map[Subscriber]int64),
	}
}

// snapshot returns a deep copy safe to hand out
func (r *room) snapshot() domain.Room {
	s := r.state
	s.Members = append([]domain.Member(nil), r.state.Members...)
	if r.state.Port != nil {
		port := *r.state.Port
		s.Port = &port
	}
	if r.state.StartedAt != nil {
		t := *r.state.StartedAt
		s.StartedAt = &t
	}
	if r.state.ClosedAt != nil {
		t := *r.state.ClosedAt
		s.ClosedAt = &t
	}
	if r.state.ExitCode != nil {
		c := *r.state.ExitCode
		s.ExitCode = &c
	}
	return s
}

func (r *room) event(reason string) domain.RoomEvent {
	return domain.RoomEvent{
		Type:      domain.EventRoomUpdated,
		Reason:    reason,
		Seq:       r.seq,
		Timestamp: time.Now().UTC(),
		Room:      r.snapshot(),
	}
}

// broadcast pushes the current state to every subscriber and the sink
func (r *room) broadcast(sink EventSink, reason string) {
	r.seq++
	ev := r.event(reason)
	for sub := range r.subs {
		sub.Notify(ev)
	}
	if sink != nil {
		sink.Publish(ev)
	}
}

func (r *room) memberIndex(playerID int64) int {
	for i, m := range r.state.Members {
		if m.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// activeCount is the number of seated, non-departed players
func (r *room) activeCount() int {
	n := 0
	for _, m := range r.state.Members {
		if !m.Departed {
			n++
		}
	}
	return n
}

func (r *room) unsubscribePlayer(playerID int64) {
	for sub, id := range r.subs {
		if id == playerID {
			delete(r.subs, sub)
		}
	}
}
