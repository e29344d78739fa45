package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
mode: development
common_instructions: "Answer concisely."
providers:
  ionos:
    display_name: IONOS AI Hub
    type: openai
    base_url: https://openai.inference.de-txl.ionos.com/v1
    api_key_env: IONOS_API_KEY
    models: [llama-3.1-8b, llama-3.1-70b]
    default_model: llama-3.1-8b
  ollama:
    display_name: Local Ollama
    type: ollama
    models: [llama3:latest]
personas:
  default: "You are a helpful assistant."
  pirate: "You answer like a pirate."
`

func TestParseValid(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	p, ok := cfg.Provider("ionos")
	require.True(t, ok)
	assert.Equal(t, "llama-3.1-8b", p.DefaultModel)

	ollama, ok := cfg.Provider("ollama")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:11434", ollama.BaseURL)
	assert.Equal(t, "ollama", ollama.APIKey)
	assert.Equal(t, "llama3:latest", ollama.DefaultModel, "default model falls back to the first listed")

	assert.Equal(t, []string{"ionos", "ollama"}, cfg.ProviderIDs())
	assert.Equal(t, []string{"default", "pirate"}, cfg.PersonaIDs())
}

func TestParseRejectsMissingSections(t *testing.T) {
	_, err := Parse([]byte("personas:\n  default: hi\n"))
	assert.Error(t, err, "missing providers")

	_, err = Parse([]byte("providers:\n  x:\n    type: ollama\n    models: [m]\n"))
	assert.Error(t, err, "missing personas")

	_, err = Parse([]byte(`
providers:
  weird:
    type: carrier-pigeon
    models: [m]
personas:
  default: hi
`))
	assert.Error(t, err)
}

func TestParseRejectsBadDefaultModel(t *testing.T) {
	_, err := Parse([]byte(`
providers:
  o:
    type: ollama
    models: [a, b]
    default_model: c
personas:
  default: hi
`))
	assert.Error(t, err)
}

func TestParseRejectsUnknownMode(t *testing.T) {
	_, err := Parse([]byte(`
mode: staging
providers:
  o:
    type: ollama
    models: [a]
personas:
  default: hi
`))
	assert.Error(t, err)
}

func TestLimitDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 40_000, cfg.Limits.PerFileChars)
	assert.Equal(t, 120_000, cfg.Limits.TotalAttachmentChars)
	assert.Equal(t, 32, cfg.Limits.MaxArchiveMembers)
	assert.Equal(t, 2, cfg.Limits.MaxArchiveDepth)
	assert.Equal(t, 120, cfg.Limits.IdleTimeoutSeconds)
}

func TestAPIKeyFor(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	t.Setenv("IONOS_API_KEY", "secret")
	p, _ := cfg.Provider("ionos")
	assert.Equal(t, "secret", cfg.APIKeyFor(p))

	ollama, _ := cfg.Provider("ollama")
	assert.Equal(t, "ollama", cfg.APIKeyFor(ollama))
}
