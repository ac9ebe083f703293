package config

import (
	"os"

	"github.com/joho/godotenv"
)

// parseEnv loads an optional .env file and overlays the variables it knows
// about. Variables already present in the process environment win over the
// file, which is godotenv's default behaviour.
func parseEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("FEDISYNC_PATHS"); v != "" {
		cfg.Paths = splitPaths(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
