// Package testhelpers provides common utilities for testing the room chat
// server.
//
// It builds fully wired test servers, performs join requests and wraps the
// gorilla dialer so end-to-end tests read as a sequence of chat actions.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. Test servers
// allow it.
const TestOrigin = "http://localhost:8080"

// Env bundles a running test server with the relay behind it.
type Env struct {
	Server   *httptest.Server
	Relay    *relay.Relay
	App      *server.Server
	Registry *prometheus.Registry
}

// NewEnv starts a test server backed by a fresh relay. customize may adjust
// the configuration before the server is built. The server is closed when
// the test ends.
func NewEnv(t *testing.T, customize func(cfg *server.Config)) *Env {
	t.Helper()

	cfg := server.DefaultConfig()
	cfg.PasswordCost = bcrypt.MinCost
	if customize != nil {
		customize(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	rl := relay.New(relay.Options{
		Logger:       logger,
		Metrics:      relay.NewMetrics(registry),
		PasswordCost: cfg.PasswordCost,
	})
	app := server.New(cfg, rl, logger)

	ts := httptest.NewServer(app.Routes(registry))
	t.Cleanup(ts.Close)

	return &Env{Server: ts, Relay: rl, App: app, Registry: registry}
}

// WebSocketURL returns the ws:// URL for roomID and username on e.
func (e *Env) WebSocketURL(roomID, username string) string {
	base := "ws" + strings.TrimPrefix(e.Server.URL, "http")
	return base + "/ws/" + url.PathEscape(roomID) + "/" + url.PathEscape(username)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// PostJSON sends body as JSON to url and decodes the JSON response into a
// string map.
func PostJSON(t *testing.T, url string, body any) (*http.Response, map[string]string) {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp, decoded
}

// Join performs POST /join-room and returns the response status and body.
func (e *Env) Join(t *testing.T, username, roomID, password string) (int, map[string]string) {
	t.Helper()
	resp, body := PostJSON(t, e.Server.URL+"/join-room", map[string]string{
		"UserId":   username,
		"roomId":   roomID,
		"password": password,
	})
	return resp.StatusCode, body
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Enter joins roomID over HTTP, opens the WebSocket and consumes the
// connection's own arrival announcement.
func (e *Env) Enter(t *testing.T, username, roomID, password string) *websocket.Conn {
	t.Helper()

	if status, body := e.Join(t, username, roomID, password); status != http.StatusOK {
		t.Fatalf("Join %s/%s failed with %d: %v", roomID, username, status, body)
	}

	conn, err := ConnectWebSocket(e.WebSocketURL(roomID, username))
	if err != nil {
		t.Fatalf("Failed to connect %s/%s: %v", roomID, username, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ExpectSystem(t, conn, username+" joined the chat")
	return conn
}

// SendMessage sends a JSON message with a "content" field.
func SendMessage(conn *websocket.Conn, content string) error {
	return conn.WriteJSON(map[string]string{"content": content})
}

// ReceiveEnvelope reads one envelope, failing the test after 2 seconds.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var env relay.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	return env
}

// ExpectSystem reads one envelope and checks it is the given announcement.
func ExpectSystem(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()

	env := ReceiveEnvelope(t, conn)
	if env.UserID != relay.SystemUser || env.MessageType != relay.TypeSystem {
		t.Fatalf("Expected system envelope, got %+v", env)
	}
	if env.Content != content {
		t.Fatalf("Expected system content %q, got %q", content, env.Content)
	}
}

// ExpectClose reads until the server closes conn and returns the close
// error.
func ExpectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return closeErr
		}
		t.Fatalf("Expected close frame, got %v", err)
	}
}

// ExpectNoMessage fails the test if conn receives a message within timeout.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, msg, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitFor polls cond until it holds or 2 seconds pass.
func WaitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting: %s", msg)
}
