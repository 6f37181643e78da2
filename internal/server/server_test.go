package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/testhelpers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRoomHandler(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	status, body := env.Join(t, "alice", "r1", "p")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Room r1 created successfully", body["message"])

	status, body = env.Join(t, "bob", "r1", "p")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "User bob can join room r1", body["message"])

	status, body = env.Join(t, "bob", "r1", "nope")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Wrong password", body["detail"])

	conn, err := testhelpers.ConnectWebSocket(env.WebSocketURL("r1", "alice"))
	require.NoError(t, err)
	defer conn.Close()
	testhelpers.ExpectSystem(t, conn, "alice joined the chat")

	status, body = env.Join(t, "alice", "r1", "p")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Username already taken", body["detail"])
}

func TestJoinRoomHandlerLongPassword(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	long := strings.Repeat("p", 100)

	status, body := env.Join(t, "alice", "r1", long)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Room r1 created successfully", body["message"])

	status, body = env.Join(t, "bob", "r1", long[:72])
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Wrong password", body["detail"])

	status, _ = env.Join(t, "bob", "r1", long)
	assert.Equal(t, http.StatusOK, status)
}

func TestJoinRoomHandlerRejectsBadBodies(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	url := env.Server.URL + "/join-room"

	tests := []struct {
		name string
		body any
	}{
		{"not json", "this is not json"},
		{"missing user", map[string]string{"roomId": "r1", "password": "p"}},
		{"missing room", map[string]string{"UserId": "alice", "password": "p"}},
		{"missing password", map[string]string{"UserId": "alice", "roomId": "r1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := testhelpers.PostJSON(t, url, tt.body)
			testhelpers.AssertStatusCode(t, resp, http.StatusUnprocessableEntity)
			assert.NotEmpty(t, body["detail"])
		})
	}
	assert.Zero(t, env.Relay.RoomCount(), "rejected bodies create nothing")
}

func TestJoinRoomHandlerMethodNotAllowed(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/join-room")
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestChatScenario(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	alice := env.Enter(t, "alice", "r1", "p")
	bob := env.Enter(t, "bob", "r1", "p")
	testhelpers.ExpectSystem(t, alice, "bob joined the chat")

	require.NoError(t, testhelpers.SendMessage(alice, "hi"))

	for _, conn := range []*websocket.Conn{alice, bob} {
		got := testhelpers.ReceiveEnvelope(t, conn)
		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, "hi", got.Content)
		assert.Equal(t, "r1", got.RoomID)
		assert.Equal(t, relay.TypeText, got.MessageType)
		assert.Nil(t, got.Timestamp)
		assert.NotEmpty(t, got.ID)
	}

	require.NoError(t, testhelpers.CloseWebSocket(bob))
	testhelpers.ExpectSystem(t, alice, "bob left the chat")
	testhelpers.WaitFor(t, func() bool {
		return env.Relay.ConnectionCount("r1") == 1
	}, "bob deregistered")
}

func TestClientFieldsAreRelayed(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	alice := env.Enter(t, "alice", "r1", "p")
	frame := map[string]string{"content": "waves", "timestamp": "2024-01-01T10:00:00Z", "type": "emote"}
	require.NoError(t, alice.WriteJSON(frame))

	got := testhelpers.ReceiveEnvelope(t, alice)
	require.NotNil(t, got.Timestamp)
	assert.Equal(t, "2024-01-01T10:00:00Z", *got.Timestamp)
	assert.Equal(t, relay.MessageType("emote"), got.MessageType)
}

func TestMessagesStayInTheirRoom(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	alice := env.Enter(t, "alice", "r1", "p")
	carol := env.Enter(t, "carol", "r2", "q")

	require.NoError(t, testhelpers.SendMessage(alice, "only r1"))
	assert.Equal(t, "only r1", testhelpers.ReceiveEnvelope(t, alice).Content)
	testhelpers.ExpectNoMessage(t, carol, 200*time.Millisecond)
}

func TestDuplicateUsernameClosedWithPolicyViolation(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	alice := env.Enter(t, "alice", "r1", "p")

	dup, err := testhelpers.ConnectWebSocket(env.WebSocketURL("r1", "alice"))
	require.NoError(t, err)
	defer dup.Close()

	closeErr := testhelpers.ExpectClose(t, dup)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "Username already taken", closeErr.Text)

	testhelpers.ExpectNoMessage(t, alice, 200*time.Millisecond)
	assert.Equal(t, 1, env.Relay.ConnectionCount("r1"))
}

func TestUnknownRoomClosedWithPolicyViolation(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	conn, err := testhelpers.ConnectWebSocket(env.WebSocketURL("nowhere", "alice"))
	require.NoError(t, err)
	defer conn.Close()

	closeErr := testhelpers.ExpectClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "Room not found", closeErr.Text)
	assert.False(t, env.Relay.HasRoom("nowhere"))
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	alice := env.Enter(t, "alice", "r1", "p")
	bob := env.Enter(t, "bob", "r1", "p")
	testhelpers.ExpectSystem(t, alice, "bob joined the chat")

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("not json")))

	closeErr := testhelpers.ExpectClose(t, bob)
	assert.Equal(t, websocket.CloseInvalidFramePayloadData, closeErr.Code)
	testhelpers.ExpectSystem(t, alice, "bob left the chat")
	assert.Equal(t, []string{"alice"}, env.Relay.Members("r1"))
}

func TestDisallowedOriginRejected(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	status, _ := env.Join(t, "alice", "r1", "p")
	require.Equal(t, http.StatusOK, status)

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(env.WebSocketURL("r1", "alice"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, env.Relay.ConnectionCount("r1"))
}

func TestLastMemberLeavingRemovesRoom(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	alice := env.Enter(t, "alice", "r1", "p")

	require.NoError(t, testhelpers.CloseWebSocket(alice))
	testhelpers.WaitFor(t, func() bool { return !env.Relay.HasRoom("r1") }, "room removed")

	status, body := env.Join(t, "carol", "r1", "a-new-password")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Room r1 created successfully", body["message"])
}

func TestRateLimitDiscardsExcessFrames(t *testing.T) {
	env := testhelpers.NewEnv(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 1, RefillInterval: time.Hour}
	})
	alice := env.Enter(t, "alice", "r1", "p")
	bob := env.Enter(t, "bob", "r1", "p")
	testhelpers.ExpectSystem(t, alice, "bob joined the chat")

	for i := 0; i < 3; i++ {
		require.NoError(t, testhelpers.SendMessage(bob, "spam"))
	}

	assert.Equal(t, "spam", testhelpers.ReceiveEnvelope(t, alice).Content)
	testhelpers.ExpectNoMessage(t, alice, 200*time.Millisecond)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	env := testhelpers.NewEnv(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 64
	})
	alice := env.Enter(t, "alice", "r1", "p")
	bob := env.Enter(t, "bob", "r1", "p")
	testhelpers.ExpectSystem(t, alice, "bob joined the chat")

	require.NoError(t, testhelpers.SendMessage(bob, strings.Repeat("x", 200)))

	closeErr := testhelpers.ExpectClose(t, bob)
	assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	testhelpers.ExpectSystem(t, alice, "bob left the chat")
}

func TestIndexPage(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/join-room")
}

func TestHealthEndpoint(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.Enter(t, "alice", "r1", "p")
	env.Enter(t, "bob", "r2", "q")

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/health")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var health server.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, server.HealthResponse{Status: "ok", Rooms: 2, Connections: 2}, health)
}

func TestMetricsEndpoint(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	env.Enter(t, "alice", "r1", "p")

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/metrics")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roomchat_rooms_active 1")
	assert.Contains(t, string(body), "roomchat_connections_active 1")
}

func TestCORSPreflight(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)

	req, err := http.NewRequest(http.MethodOptions, env.Server.URL+"/join-room", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", testhelpers.TestOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, testhelpers.TestOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDrainClosesConnections(t *testing.T) {
	env := testhelpers.NewEnv(t, nil)
	alice := env.Enter(t, "alice", "r1", "p")
	bob := env.Enter(t, "bob", "r2", "q")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.App.Drain(ctx))

	for _, conn := range []*websocket.Conn{alice, bob} {
		closeErr := testhelpers.ExpectClose(t, conn)
		assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	}
	assert.Zero(t, env.Relay.RoomCount())
}
