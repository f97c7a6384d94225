package server

import "net/http"

// Routes configures and returns the HTTP handler with all application routes.
func (a *App) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", withCORS(a.HealthHandler))
	mux.HandleFunc("/health", withCORS(a.HealthHandler))
	mux.HandleFunc("/api/messages/{userId}", withCORS(a.HistoryHandler))
	mux.Handle("GET /metrics", a.MetricsHandler())
	mux.HandleFunc("/ws", a.WebSocketHandler)
	mux.HandleFunc("GET /test", a.TestPageHandler)
	return mux
}
