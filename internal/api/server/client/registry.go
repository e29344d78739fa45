package client

import (
	"fmt"
	"time"

	"chatrelay/internal/config"
)

// Registry resolves provider ids to their adapters. Built once at startup
// from the immutable configuration; read-only afterwards, shared by all
// requests. Adding a provider backend means one new adapter variant and one
// case here.
type Registry struct {
	clients map[string]ProviderClient
}

func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{clients: make(map[string]ProviderClient, len(cfg.Providers))}

	idle := time.Duration(cfg.Limits.IdleTimeoutSeconds) * time.Second
	for _, id := range cfg.ProviderIDs() {
		p := cfg.Providers[id]
		cc := ClientConfig{
			Name:         displayName(id, p),
			BaseURL:      p.BaseURL,
			APIKey:       cfg.APIKeyFor(p),
			Models:       p.Models,
			DefaultModel: p.DefaultModel,
			IdleTimeout:  idle,
		}

		var (
			pc  ProviderClient
			err error
		)
		switch p.Type {
		case config.TypeOpenAI:
			pc, err = NewOpenAIClient(cc)
		case config.TypeGoogle:
			pc, err = NewGoogleClient(cc)
		case config.TypeOllama:
			pc, err = NewOllamaClient(cc)
		default:
			err = fmt.Errorf("client: provider %q has unknown type %q", id, p.Type)
		}
		if err != nil {
			return nil, err
		}
		r.clients[id] = pc
	}
	return r, nil
}

func (r *Registry) Resolve(id string) (ProviderClient, bool) {
	pc, ok := r.clients[id]
	return pc, ok
}

func displayName(id string, p config.Provider) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return id
}
