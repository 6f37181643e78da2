package relay

import "sync"

// Session is one successful registration of a connection in a room. The
// transport keeps it for the lifetime of the connection.
type Session struct {
	relay    *Relay
	roomID   string
	username string
	conn     Conn
	leave    sync.Once
}

// RoomID returns the room the session is registered in.
func (s *Session) RoomID() string { return s.roomID }

// Username returns the name the session is registered under.
func (s *Session) Username() string { return s.username }

// Post broadcasts a client frame to the session's room, attributed to the
// session's username.
func (s *Session) Post(f Frame) Envelope {
	env := NewEnvelope(s.roomID, s.username, f)
	s.relay.Broadcast(s.roomID, env)
	return env
}

// Leave deregisters the session. Only the first call has any effect, so
// every termination path may call it.
func (s *Session) Leave() {
	s.leave.Do(func() {
		s.relay.Deregister(s.roomID, s.username, s.conn)
	})
}

// Register is the authoritative admission of conn into roomID under
// username. On success the arrival is announced to the room, including the
// new member. Announcement delivery failures do not fail the join.
func (r *Relay) Register(roomID, username string, conn Conn) (*Session, error) {
	for {
		rm := r.lookup(roomID)
		if rm == nil {
			r.reject(roomID, username, ErrRoomNotFound)
			return nil, ErrRoomNotFound
		}

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		if _, taken := rm.members[username]; taken {
			rm.mu.Unlock()
			r.reject(roomID, username, ErrUsernameTaken)
			return nil, ErrUsernameTaken
		}

		rm.add(username, conn)
		r.metrics.ConnectionsActive.Inc()
		count := len(rm.conns)
		r.announceLocked(rm, joinedEnvelope(roomID, username))
		rm.mu.Unlock()

		r.logger.Info("Client registered", "room", roomID, "user", username, "room_clients", count)
		return &Session{relay: r, roomID: roomID, username: username, conn: conn}, nil
	}
}

// Deregister removes conn from roomID and announces the departure. Calling
// it for a connection that broadcast pruning already removed only emits the
// announcement; calling it again is a no-op. When the membership set becomes
// empty the room leaves the directory instead. No departure is announced if
// username now belongs to another connection.
func (r *Relay) Deregister(roomID, username string, conn Conn) {
	rm := r.lookup(roomID)
	if rm == nil {
		r.logger.Debug("Deregister for unknown room", "room", roomID, "user", username)
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return
	}

	removed := rm.remove(username, conn)
	_, pruned := rm.pruned[conn]
	delete(rm.pruned, conn)
	if !removed && !pruned {
		return
	}
	if removed {
		r.metrics.ConnectionsActive.Dec()
		r.logger.Info("Client unregistered", "room", roomID, "user", username, "room_clients", len(rm.conns))
	}

	if rm.empty() {
		r.dropLocked(rm)
		r.logger.Info("Room removed", "room", roomID, "reason", "empty")
		return
	}

	if _, held := rm.members[username]; held {
		// A newer connection owns the name now.
		return
	}
	r.announceLocked(rm, leftEnvelope(roomID, username))
}
