package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DefaultDotEnvFiles are loaded in priority order when no files are given.
var DefaultDotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads the existing files among candidates, earlier files winning.
// Variables already set in the process environment are never overwritten, so
// exported values win over .env.local, which wins over .env.
// Returns the files actually loaded.
func LoadDotEnv(candidates ...string) []string {
	if len(candidates) == 0 {
		candidates = DefaultDotEnvFiles
	}
	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	if len(loaded) > 0 {
		_ = godotenv.Load(loaded...)
	}
	return loaded
}
