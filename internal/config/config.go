package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration for the service.
type Config struct {
	AnthropicAPIKey string
	Model           string

	// GitHubToken is the fallback token used when a repository was stored
	// without its own access token.
	GitHubToken string

	ChromePath string
	Port       string
	DBPath     string
	ReportsDir string

	CORSAllowedOrigins string
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using system environment")
	}

	apiKey, err := getEnvRequired("ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AnthropicAPIKey:    apiKey,
		Model:              getEnvWithDefault("LLM_MODEL", "claude-sonnet-4-20250514"),
		GitHubToken:        os.Getenv("GITHUB_TOKEN"),
		ChromePath:         getEnvWithDefault("CHROME_PATH", "chromium"),
		Port:               getEnvWithDefault("PORT", "8080"),
		DBPath:             getEnvWithDefault("DB_PATH", "prdigest.db"),
		ReportsDir:         getEnvWithDefault("REPORTS_DIR", "reports"),
		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
	}
	return cfg, nil
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
