package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Routes returns the application's HTTP handler. Metrics are served from
// gatherer, or from the default Prometheus registry when it is nil.
func (s *Server) Routes(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.IndexHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/join-room", s.JoinRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/ws/{room_id}/{user_id}", s.WebSocketHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}
