package relay

import "errors"

// Join and session errors surfaced to callers.
var (
	// ErrWrongPassword is returned when a room exists and the supplied
	// password does not match the one it was created with.
	ErrWrongPassword = errors.New("wrong password")

	// ErrUsernameTaken is returned when the username is already active in
	// the room.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrRoomNotFound is returned by Register when the room is not in the
	// directory, either because no join request created it or because its
	// last member left before the connection was opened.
	ErrRoomNotFound = errors.New("room not found")

	// ErrMalformedFrame wraps every inbound frame decoding failure.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Delivery errors returned by Conn implementations. The relay treats any
// non-nil delivery error as a dead connection.
var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)
