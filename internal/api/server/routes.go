package server

import (
	"net/http"

	"chatrelay/internal/api/server/handlers"
)

func registerRoutes(mux *http.ServeMux, handler *handlers.Handler) {
	mux.HandleFunc("/chat", handler.ChatHandler)
	mux.HandleFunc("/config", handler.ConfigHandler)
	mux.HandleFunc("/status", handler.StatusHandler)
}
