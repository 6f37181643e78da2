package relay

import (
	"sync"
	"time"
)

// Conn is one live channel to a client. The relay holds a non-owning
// reference for fan-out; the transport owns the socket.
//
// Deliver must not block. Any error marks the connection dead. Close asks
// the transport to tear the channel down and must be safe to call more than
// once.
type Conn interface {
	Deliver(payload []byte) error
	Close() error
}

// room is a directory entry together with its membership set and connection
// list. Every field below mu is guarded by it.
type room struct {
	id           string
	passwordHash []byte // immutable after creation

	mu         sync.Mutex
	members    map[string]Conn   // username -> connection
	conns      []Conn            // registration order
	pruned     map[Conn]struct{} // removed by broadcast, not yet deregistered
	closed     bool              // removed from the directory
	emptySince time.Time
}

func newRoom(id string, passwordHash []byte, now time.Time) *room {
	return &room{
		id:           id,
		passwordHash: passwordHash,
		members:      make(map[string]Conn),
		pruned:       make(map[Conn]struct{}),
		emptySince:   now,
	}
}

// add inserts the username and connection together.
func (r *room) add(username string, conn Conn) {
	r.members[username] = conn
	r.conns = append(r.conns, conn)
}

// remove drops conn from the connection list and, if username still maps
// to it, from the membership set. It reports whether anything changed.
func (r *room) remove(username string, conn Conn) bool {
	removed := false
	for i, c := range r.conns {
		if c == conn {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			removed = true
			break
		}
	}
	if r.members[username] == conn {
		delete(r.members, username)
		removed = true
	}
	return removed
}

// removeConn drops conn wherever it appears. Used by pruning, which only
// knows the connection.
func (r *room) removeConn(conn Conn) {
	for username, c := range r.members {
		if c == conn {
			r.remove(username, conn)
			return
		}
	}
	for i, c := range r.conns {
		if c == conn {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return
		}
	}
}

func (r *room) empty() bool {
	return len(r.members) == 0
}

func (r *room) usernames() []string {
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	return names
}
