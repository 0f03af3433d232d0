package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the environment-provided settings for the session server.
type Config struct {
	Port           string
	Env            string // origin checking is enforced only when "production"
	AllowedOrigins []string

	MaxConnectionsPerIP int

	AwarenessTimeout time.Duration

	PistonAPIURL string
}

// Load reads configuration from the environment, falling back to defaults
// that match local development. A missing .env file is not an error.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "1234"),
		Env:                 getEnv("APP_ENV", "development"),
		AllowedOrigins:      splitOrigins(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),
		MaxConnectionsPerIP: getEnvInt("MAX_CONNECTIONS_PER_IP", 10),
		AwarenessTimeout:    time.Duration(getEnvInt("AWARENESS_TIMEOUT_SECONDS", 30)) * time.Second,
		PistonAPIURL:        getEnv("PISTON_API_URL", "https://emkc.org/api/v2/piston"),
	}
}

// Production reports whether origin checking should be enforced.
func (c *Config) Production() bool {
	return c.Env == "production"
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
