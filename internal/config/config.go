package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	defaultOllamaBaseURL = "http://localhost:11434"
)

// Provider type tags understood by the client registry.
const (
	TypeOpenAI = "openai"
	TypeGoogle = "google"
	TypeOllama = "ollama"
)

// Provider describes one configured LLM backend. Read-only after Load.
type Provider struct {
	DisplayName  string   `yaml:"display_name"`
	Type         string   `yaml:"type"`
	BaseURL      string   `yaml:"base_url"`
	APIKeyEnv    string   `yaml:"api_key_env"`
	APIKey       string   `yaml:"api_key"`
	Models       []string `yaml:"models"`
	DefaultModel string   `yaml:"default_model"`
}

// Limits bounds attachment normalization and upstream streaming.
type Limits struct {
	PerFileChars         int `yaml:"per_file_chars"`
	TotalAttachmentChars int `yaml:"total_attachment_chars"`
	MaxArchiveMembers    int `yaml:"max_archive_members"`
	MaxArchiveDepth      int `yaml:"max_archive_depth"`
	IdleTimeoutSeconds   int `yaml:"idle_timeout_seconds"`
}

// Config is the process-wide configuration table. It is constructed once at
// startup and never mutated afterwards; every request-scoped component holds
// it by pointer.
type Config struct {
	Mode               string              `yaml:"mode"`
	CommonInstructions string              `yaml:"common_instructions"`
	Providers          map[string]Provider `yaml:"providers"`
	Personas           map[string]string   `yaml:"personas"`
	Limits             Limits              `yaml:"limits"`
}

// Load reads .env (overriding existing environment, matching the original
// deployment convention), then parses and validates the YAML config file.
func Load(path string) (*Config, error) {
	// Missing .env is fine; deployments may configure the environment directly.
	_ = godotenv.Overload()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("config: invalid structure, missing 'providers'")
	}
	if len(cfg.Personas) == 0 {
		return nil, fmt.Errorf("config: invalid structure, missing 'personas'")
	}

	switch cfg.Mode {
	case "":
		cfg.Mode = ModeDevelopment
	case ModeDevelopment, ModeProduction:
	default:
		return nil, fmt.Errorf("config: unknown mode %q", cfg.Mode)
	}

	for id, p := range cfg.Providers {
		switch p.Type {
		case TypeOpenAI, TypeGoogle:
			if p.BaseURL == "" {
				return nil, fmt.Errorf("config: provider %q has no base_url", id)
			}
		case TypeOllama:
			// Env override first, then config, then the conventional local port.
			if env := os.Getenv("OLLAMA_BASE_URL"); env != "" {
				p.BaseURL = env
			} else if p.BaseURL == "" {
				p.BaseURL = defaultOllamaBaseURL
			}
			if p.APIKey == "" {
				p.APIKey = "ollama"
			}
		default:
			return nil, fmt.Errorf("config: provider %q has unknown type %q", id, p.Type)
		}

		if len(p.Models) == 0 {
			return nil, fmt.Errorf("config: provider %q lists no models", id)
		}
		if p.DefaultModel == "" {
			p.DefaultModel = p.Models[0]
		} else if !contains(p.Models, p.DefaultModel) {
			return nil, fmt.Errorf("config: provider %q default model %q not in models", id, p.DefaultModel)
		}
		cfg.Providers[id] = p
	}

	applyLimitDefaults(&cfg.Limits)

	return &cfg, nil
}

func applyLimitDefaults(l *Limits) {
	if l.PerFileChars <= 0 {
		l.PerFileChars = 40_000
	}
	if l.TotalAttachmentChars <= 0 {
		l.TotalAttachmentChars = 120_000
	}
	if l.MaxArchiveMembers <= 0 {
		l.MaxArchiveMembers = 32
	}
	if l.MaxArchiveDepth <= 0 {
		l.MaxArchiveDepth = 2
	}
	if l.IdleTimeoutSeconds <= 0 {
		l.IdleTimeoutSeconds = 120
	}
}

// Provider returns the descriptor for id, if configured.
func (c *Config) Provider(id string) (Provider, bool) {
	p, ok := c.Providers[id]
	return p, ok
}

// Persona returns the system prompt for id, if configured.
func (c *Config) Persona(id string) (string, bool) {
	p, ok := c.Personas[id]
	return p, ok
}

// APIKeyFor resolves the provider's API key: environment variable indirection
// first, then the literal key from config (used for local backends).
func (c *Config) APIKeyFor(p Provider) string {
	if p.APIKeyEnv != "" {
		if key := os.Getenv(p.APIKeyEnv); key != "" {
			return key
		}
	}
	return p.APIKey
}

// ProviderIDs returns the configured provider ids in stable order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PersonaIDs returns the configured persona ids in stable order.
func (c *Config) PersonaIDs() []string {
	ids := make([]string, 0, len(c.Personas))
	for id := range c.Personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
