package server

import "strings"

// JoinRequest is the body of POST /join-room. Field names match the
// browser client. Pointers distinguish a missing field from an empty one.
type JoinRequest struct {
	UserID   *string `json:"UserId"`
	RoomID   *string `json:"roomId"`
	Password *string `json:"password"`
}

// JoinResponse is returned when a join request is accepted.
type JoinResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned when a request is refused.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
