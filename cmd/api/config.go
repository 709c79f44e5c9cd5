package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/fastprodman/tcgpacks/internal/config"
)

type apiConfig struct {
	Port            uint16        `env:"API_PORT" default:"8080"`
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration `env:"API_SHUTDOWN_TIMEOUT" default:"15s"`
	PackConfigFile  string        `env:"PACK_CONFIG_FILE" default:""`
	AllowedOrigins  string        `env:"CORS_ALLOWED_ORIGINS" default:"*"`

	Postgres  config.PostgresConfig
	Auth      config.AuthConfig
	Credits   config.CreditsConfig
	Jobs      config.JobsConfig
	RateLimit config.RateLimitConfig
}

func (c *apiConfig) origins() []string {
	var out []string

	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}

	return out
}
