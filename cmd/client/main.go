package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
)

var (
	addr     = flag.String("addr", "localhost:8080", "http service address")
	room     = flag.String("room", "", "room to join")
	user     = flag.String("user", "", "username")
	password = flag.String("password", "", "room password")
	origin   = flag.String("origin", "http://localhost:8080", "Origin header sent with the WebSocket handshake")
)

func main() {
	flag.Parse()

	scanner := bufio.NewScanner(os.Stdin)
	roomID := prompt(scanner, *room, "Room: ")
	username := prompt(scanner, *user, "Username: ")

	if err := joinRoom(roomID, username, *password); err != nil {
		log.Fatalf("Join refused: %v", err)
	}

	conn := connectWebSocket(roomID, username)
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go readMessages(conn, done)

	fmt.Println("Write Messages (Press Enter to Send):")
	writeMessages(conn, scanner, interrupt, done)
}

func prompt(scanner *bufio.Scanner, value, label string) string {
	if value != "" {
		return value
	}
	fmt.Print(label)
	scanner.Scan()
	return scanner.Text()
}

func joinRoom(roomID, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"UserId":   username,
		"roomId":   roomID,
		"password": password,
	})
	if err != nil {
		return err
	}

	u := url.URL{Scheme: "http", Host: *addr, Path: "/join-room"}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(u.String(), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var refusal server.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&refusal); err != nil {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("%s (status %d)", refusal.Detail, resp.StatusCode)
	}

	var accepted server.JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err == nil {
		log.Println(accepted.Message)
	}
	return nil
}

func connectWebSocket(roomID, username string) *websocket.Conn {
	u := webSocketURL(*addr, roomID, username)
	log.Printf("Connecting to %s", u.String())

	header := http.Header{}
	header.Set("Origin", *origin)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatalf("Failed to connect to WebSocket server: %v", err)
	}
	log.Println("Connected to WebSocket server.")
	return conn
}

// webSocketURL escapes each path segment so names containing '/' or '%'
// reach the right route.
func webSocketURL(host, roomID, username string) url.URL {
	return url.URL{
		Scheme:  "ws",
		Host:    host,
		Path:    "/ws/" + roomID + "/" + username,
		RawPath: "/ws/" + url.PathEscape(roomID) + "/" + url.PathEscape(username),
	}
}

func readMessages(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var env relay.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok && closeErr.Text != "" {
				log.Printf("Connection closed: %s", closeErr.Text)
				return
			}
			log.Printf("Error reading message: %v", err)
			return
		}

		if env.MessageType == relay.TypeSystem {
			fmt.Printf("\n* %s\n", env.Content)
			continue
		}
		fmt.Printf("\n%s: %s\n", env.UserID, env.Content)
	}
}

func writeMessages(conn *websocket.Conn, scanner *bufio.Scanner, interrupt chan os.Signal, done chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection...")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Printf("Error during close: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case content, ok := <-lines:
			if !ok {
				return
			}
			if content == "" {
				continue
			}

			timestamp := time.Now().Format(time.RFC3339)
			frame := relay.Frame{Content: &content, Timestamp: &timestamp}
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("Error sending message: %v", err)
				return
			}
		}
	}
}
