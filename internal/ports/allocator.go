// Package ports hands out exclusive local ports to match processes.
package ports

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// ErrExhausted is returned when every port in the range is leased
var ErrExhausted = errors.New("no match ports available")

// Lease is one port checked out of the pool
type Lease struct {
	Port  int    `json:"port"`
	Owner string `json:"owner"`
}

// Option configures an Allocator
type Option func(*Allocator)

// WithProbe makes Acquire skip ports for which probe reports false,
// e.g. ports another program already has bound
func WithProbe(probe func(port int) bool) Option {
	return func(a *Allocator) {
		a.probe = probe
	}
}

// Allocator tracks a fixed inclusive port range. All methods are safe
// for concurrent use.
type Allocator struct {
	first int
	last  int
	probe func(port int) bool

	mu     sync.Mutex
	owners []string // index port-first; empty string means free
	free   int
}

// New creates an allocator over [first, last]
func New(first, last int, opts ...Option) (*Allocator, error) {
	if first < 1 || last > 65535 || first > last {
		return nil, fmt.Errorf("invalid port range %d-%d", first, last)
	}
	a := &Allocator{
		first:  first,
		last:   last,
		owners: make([]string, last-first+1),
		free:   last - first + 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Acquire leases the lowest free port to owner
func (a *Allocator) Acquire(owner string) (int, error) {
	if owner == "" {
		return 0, errors.New("port owner required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, o := range a.owners {
		if o != "" {
			continue
		}
		port := a.first + i
		if a.probe != nil && !a.probe(port) {
			log.Printf("Port %d is bound by another process, skipping", port)
			continue
		}
		a.owners[i] = owner
		a.free--
		return port, nil
	}
	return 0, ErrExhausted
}

// Release returns a port to the pool. Releasing a free or foreign port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port < a.first || port > a.last {
		log.Printf("Warning: release of port %d outside range %d-%d ignored", port, a.first, a.last)
		return
	}
	i := port - a.first
	if a.owners[i] == "" {
		log.Printf("Warning: port %d released twice, ignoring", port)
		return
	}
	a.owners[i] = ""
	a.free++
}

// Free returns the number of unleased ports
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.free
}

// Size returns the configured number of ports
func (a *Allocator) Size() int {
	return a.last - a.first + 1
}

// Range returns the configured bounds
func (a *Allocator) Range() (first, last int) {
	return a.first, a.last
}

// Leases returns the current leases in port order
func (a *Allocator) Leases() []Lease {
	a.mu.Lock()
	defer a.mu.Unlock()

	leases := make([]Lease, 0, len(a.owners)-a.free)
	for i, o := range a.owners {
		if o != "" {
			leases = append(leases, Lease{Port: a.first + i, Owner: o})
		}
	}
	return leases
}

// ListenProbe reports whether a TCP listener can bind the port on host
func ListenProbe(host string) func(port int) bool {
	return func(port int) bool {
		l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
		if err != nil {
			return false
		}
		l.Close()
		return true
	}
}
