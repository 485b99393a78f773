package server

import "net/http"

// Routes returns a ServeMux with every endpoint registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.RootHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.HandleFunc("GET /presence/{userID}", s.PresenceHandler)
	mux.HandleFunc("GET /test", s.TestPageHandler)
	return mux
}
