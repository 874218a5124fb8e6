package config

import (
	"fmt"
	"strings"

	envparse "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Settings carries credentials and connection values sourced from RAGCTL_*
// process environment variables. Secrets live here, not in stack.yaml, so the
// stack file stays safe to commit.
type Settings struct {
	// DeepSeekAPIKey is the LLM API key from RAGCTL_DEEPSEEK_API_KEY.
	DeepSeekAPIKey string `env:"RAGCTL_DEEPSEEK_API_KEY"`
	// DeepSeekBaseURL is the LLM API base URL from RAGCTL_DEEPSEEK_BASE_URL.
	DeepSeekBaseURL string `env:"RAGCTL_DEEPSEEK_BASE_URL" envDefault:"https://api.deepseek.com"`
	// DeepSeekModel is the chat model name from RAGCTL_DEEPSEEK_MODEL.
	DeepSeekModel string `env:"RAGCTL_DEEPSEEK_MODEL" envDefault:"deepseek-chat"`
	// PostgresUser is the database role from RAGCTL_POSTGRES_USER.
	PostgresUser string `env:"RAGCTL_POSTGRES_USER" envDefault:"lightrag"`
	// PostgresPassword is the database password from RAGCTL_POSTGRES_PASSWORD.
	PostgresPassword string `env:"RAGCTL_POSTGRES_PASSWORD"`
	// PostgresDatabase is the database name from RAGCTL_POSTGRES_DB.
	PostgresDatabase string `env:"RAGCTL_POSTGRES_DB" envDefault:"lightrag"`
	// OllamaHost overrides the model-server host from RAGCTL_OLLAMA_HOST.
	// Used by the existing-cluster target to point at an external server.
	OllamaHost string `env:"RAGCTL_OLLAMA_HOST"`
	// DockerHostGateway is the address containers use to reach the host,
	// from RAGCTL_DOCKER_HOST_GATEWAY.
	DockerHostGateway string `env:"RAGCTL_DOCKER_HOST_GATEWAY" envDefault:"host.docker.internal"`
}

// MissingSettingsError reports required settings that were absent from the environment.
type MissingSettingsError struct {
	// Keys lists the missing RAGCTL_* variable names.
	Keys []string
}

func (e *MissingSettingsError) Error() string {
	return fmt.Sprintf("required settings missing from environment: %s", strings.Join(e.Keys, ", "))
}

// LoadSettings merges the given .env files into the process environment
// (existing variables win) and parses Settings from it. Required keys must be
// present; there are no silent defaults for secrets.
func LoadSettings(envFiles []string) (Settings, error) {
	var settings Settings

	for _, path := range envFiles {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return settings, fmt.Errorf("load env file %q: %w", path, err)
		}
	}

	if err := envparse.Parse(&settings); err != nil {
		return settings, fmt.Errorf("parse RAGCTL_* environment: %w", err)
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate checks that every required setting is non-empty.
func (s Settings) Validate() error {
	var missing []string
	if strings.TrimSpace(s.DeepSeekAPIKey) == "" {
		missing = append(missing, "RAGCTL_DEEPSEEK_API_KEY")
	}
	if strings.TrimSpace(s.PostgresPassword) == "" {
		missing = append(missing, "RAGCTL_POSTGRES_PASSWORD")
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Keys: missing}
	}
	return nil
}
