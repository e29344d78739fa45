package server

import (
	"net/http"

	"chatrelay/internal/api/server/client"
	"chatrelay/internal/api/server/handlers"
	"chatrelay/internal/config"
	"chatrelay/internal/logger"
)

const defaultPort = "8080"

var LocalLogger *logger.Logger

func Init() {
	LocalLogger = logger.NewLogger("Server")
}

// Run builds the provider registry from the immutable configuration and
// serves until the process exits. addrOverride, when non-empty, wins over the
// mode-derived bind address.
func Run(cfg *config.Config, addrOverride string) error {
	registry, err := client.NewRegistry(cfg)
	if err != nil {
		return err
	}

	for _, id := range cfg.ProviderIDs() {
		p := cfg.Providers[id]
		LocalLogger.Info("Provider ", id, " (", p.Type, ") with ", len(p.Models), " models, default ", p.DefaultModel)
	}

	handler := handlers.NewHandler(cfg, registry)

	mux := http.NewServeMux()
	registerRoutes(mux, handler)

	addr := resolveAddr(cfg, addrOverride)
	LocalLogger.Info("Mode: ", cfg.Mode)
	LocalLogger.Info("Server started on http://" + addr + "/")
	return http.ListenAndServe(addr, mux)
}

// resolveAddr binds to localhost in development and all interfaces in
// production, mirroring the original deployment split.
func resolveAddr(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.Mode == config.ModeProduction {
		return "0.0.0.0:" + defaultPort
	}
	return "localhost:" + defaultPort
}
