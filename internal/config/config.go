package config

import "time"

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"5"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"30s"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"5m"`
	PingTimeout     time.Duration `env:"PG_PING_TIMEOUT" default:"5s"`
}

type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	Issuer    string `env:"AUTH_JWT_ISSUER" default:""`
}

// CreditsConfig tunes the credit ledger. DailyBonus is a deployment choice;
// older revisions of the game paid out different amounts.
type CreditsConfig struct {
	DailyBonus    int64         `env:"CREDITS_DAILY_BONUS" default:"100"`
	RetryAttempts int           `env:"CREDITS_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff  time.Duration `env:"CREDITS_RETRY_BACKOFF" default:"25ms"`
}

type JobsConfig struct {
	Workers        int           `env:"JOBS_WORKERS" default:"4"`
	QueueSize      int           `env:"JOBS_QUEUE_SIZE" default:"1024"`
	MaxAttempts    int           `env:"JOBS_MAX_ATTEMPTS" default:"3"`
	RetryBackoff   time.Duration `env:"JOBS_RETRY_BACKOFF" default:"1s"`
	AttemptTimeout time.Duration `env:"JOBS_ATTEMPT_TIMEOUT" default:"30s"`
	RetainFinished int           `env:"JOBS_RETAIN_FINISHED" default:"10000"`
}

type RateLimitConfig struct {
	PacksPerSecond float64 `env:"RATE_PACKS_PER_SECOND" default:"1"`
	PacksBurst     int     `env:"RATE_PACKS_BURST" default:"3"`
}
