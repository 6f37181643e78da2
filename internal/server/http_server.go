package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and begins listening for connections.
// It returns an error if the server fails to start.
func StartServer(server *http.Server, logger *slog.Logger) error {
	logger.Info("Server listening", "addr", server.Addr)
	return server.ListenAndServe()
}

// ShutdownServer stops accepting new requests and waits for in-flight ones
// until ctx expires. Upgraded WebSocket connections are not tracked by
// net/http; Drain closes those.
func ShutdownServer(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	logger.Info("Shutting down HTTP server...")

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	logger.Info("HTTP server shutdown completed")
	return nil
}

// Drain closes every room connection and waits for their pumps to exit or
// ctx to expire.
func (s *Server) Drain(ctx context.Context) error {
	closed := s.relay.Shutdown()

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All client pumps stopped", "connections", closed)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for client pumps: %w", ctx.Err())
	}
}
