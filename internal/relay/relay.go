package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Outcome is the successful result of a join request.
type Outcome int

const (
	// RoomCreated means the room did not exist and was created with the
	// supplied password.
	RoomCreated Outcome = iota + 1
	// JoinAuthorized means the room exists, the password matched and the
	// username is free.
	JoinAuthorized
)

func (o Outcome) String() string {
	switch o {
	case RoomCreated:
		return "room_created"
	case JoinAuthorized:
		return "join_authorized"
	default:
		return "unknown"
	}
}

// Options configures a Relay. Zero values fall back to defaults.
type Options struct {
	Logger       *slog.Logger
	Metrics      *Metrics
	PasswordCost int
	Now          func() time.Time
}

// Relay owns the room directory, membership sets and connection registry.
// Construct one per process and share it by reference.
//
// Each room has its own lock. The directory lock only guards the map and is
// never held while a room lock is being acquired, so the lock order is
// always room, then directory.
type Relay struct {
	logger       *slog.Logger
	metrics      *Metrics
	passwordCost int
	now          func() time.Time

	mu    sync.RWMutex
	rooms map[string]*room
}

// New returns an empty Relay.
func New(opts Options) *Relay {
	r := &Relay{
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		passwordCost: opts.PasswordCost,
		now:          opts.Now,
		rooms:        make(map[string]*room),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	if r.passwordCost == 0 {
		r.passwordCost = bcrypt.DefaultCost
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// TryJoin checks a join request against the directory. An unknown room is
// created with password. The username check is advisory; Register repeats
// it under the room lock.
func (r *Relay) TryJoin(roomID, username, password string) (Outcome, error) {
	for {
		rm := r.lookup(roomID)
		if rm == nil {
			created, err := r.create(roomID, password)
			if err != nil {
				return 0, err
			}
			if created != nil {
				r.logger.Info("Room created", "room", roomID, "user", username)
				return RoomCreated, nil
			}
			// Lost the creation race; check against the winner.
			continue
		}

		if bcrypt.CompareHashAndPassword(rm.passwordHash, passwordDigest(password)) != nil {
			if r.lookup(roomID) != rm {
				// Emptied and removed while we compared.
				continue
			}
			r.reject(roomID, username, ErrWrongPassword)
			return 0, ErrWrongPassword
		}

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		_, taken := rm.members[username]
		rm.mu.Unlock()

		if taken {
			r.reject(roomID, username, ErrUsernameTaken)
			return 0, ErrUsernameTaken
		}
		return JoinAuthorized, nil
	}
}

// create hashes password outside the directory lock and inserts the room if
// nobody beat us to it. It returns nil, nil when another request created the
// room first.
func (r *Relay) create(roomID, password string) (*room, error) {
	hash, err := bcrypt.GenerateFromPassword(passwordDigest(password), r.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash room password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[roomID]; exists {
		return nil, nil
	}
	rm := newRoom(roomID, hash, r.now())
	r.rooms[roomID] = rm
	r.metrics.RoomsActive.Inc()
	return rm, nil
}

// passwordDigest maps a password of any length to a fixed 64-byte input.
// bcrypt ignores everything past 72 bytes and refuses longer inputs.
func passwordDigest(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	dst := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(dst, sum[:])
	return dst
}

func (r *Relay) lookup(roomID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// dropLocked removes rm from the directory. The caller holds rm.mu.
func (r *Relay) dropLocked(rm *room) {
	rm.closed = true

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
		r.metrics.RoomsActive.Dec()
	}
}

func (r *Relay) reject(roomID, username string, err error) {
	r.metrics.JoinsRejected.WithLabelValues(rejectReason(err)).Inc()
	r.logger.Info("Join rejected", "room", roomID, "user", username, "reason", err)
}

// HasRoom reports whether roomID is in the directory.
func (r *Relay) HasRoom(roomID string) bool {
	return r.lookup(roomID) != nil
}

// RoomCount returns the number of rooms in the directory.
func (r *Relay) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Members returns the sorted usernames currently in roomID.
func (r *Relay) Members(roomID string) []string {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	names := rm.usernames()
	rm.mu.Unlock()
	sort.Strings(names)
	return names
}

// ConnectionCount returns the number of registered connections in roomID.
func (r *Relay) ConnectionCount(roomID string) int {
	rm := r.lookup(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.conns)
}

// TotalConnections returns the number of registered connections across all
// rooms.
func (r *Relay) TotalConnections() int {
	total := 0
	for _, rm := range r.snapshot() {
		rm.mu.Lock()
		total += len(rm.conns)
		rm.mu.Unlock()
	}
	return total
}

func (r *Relay) snapshot() []*room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	return rooms
}

// Shutdown closes every registered connection. Their read loops observe the
// close and deregister as usual. It returns the number of connections
// closed.
func (r *Relay) Shutdown() int {
	r.logger.Info("Shutting down all room connections...")

	closed := 0
	for _, rm := range r.snapshot() {
		rm.mu.Lock()
		conns := append([]Conn(nil), rm.conns...)
		rm.mu.Unlock()

		for _, c := range conns {
			if err := c.Close(); err != nil && !errors.Is(err, ErrConnClosed) {
				r.logger.Warn("Error closing connection", "room", rm.id, "error", err)
			}
			closed++
		}
	}

	r.logger.Info("Closed room connections", "count", closed)
	return closed
}
