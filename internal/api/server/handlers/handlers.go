package handlers

import (
	"encoding/json"
	"net/http"

	"chatrelay/internal/api/server/client"
	"chatrelay/internal/config"
)

// ProviderResolver is the piece of the client registry handlers depend on.
type ProviderResolver interface {
	Resolve(id string) (client.ProviderClient, bool)
}

type Handler struct {
	cfg      *config.Config
	registry ProviderResolver
}

func NewHandler(cfg *config.Config, registry ProviderResolver) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
	}
}

type providerConfig struct {
	DisplayName  string   `json:"display_name,omitempty"`
	Models       []string `json:"models"`
	DefaultModel string   `json:"default_model"`
}

type frontendConfig struct {
	Providers map[string]providerConfig `json:"providers"`
	Personas  []string                  `json:"personas"`
}

// ConfigHandler serves the read-only configuration snapshot the browser UI
// needs to populate its provider, model, and persona selectors.
func (h *Handler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	out := frontendConfig{
		Providers: make(map[string]providerConfig, len(h.cfg.Providers)),
		Personas:  h.cfg.PersonaIDs(),
	}
	for _, id := range h.cfg.ProviderIDs() {
		p := h.cfg.Providers[id]
		out.Providers[id] = providerConfig{
			DisplayName:  p.DisplayName,
			Models:       p.Models,
			DefaultModel: p.DefaultModel,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
	}
}

// StatusHandler reports liveness.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status := struct {
		ServerWorking bool `json:"server_working"`
		Providers     int  `json:"providers"`
	}{
		ServerWorking: true,
		Providers:     len(h.cfg.Providers),
	}

	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(status)
	if err != nil {
		return
	}
}
