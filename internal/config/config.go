package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Token           string        `env:"TOKEN"`
	AllowedUsers    []int64       `env:"ALLOWED_USERS"`
	DBPath          string        `env:"DB_PATH"          envDefault:"db.sqlite"`
	Feeds           []string      `env:"FEEDS"`
	MaxAge          time.Duration `env:"MAX_AGE"          envDefault:"1h"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT"    envDefault:"20s"`
	HostInterval    time.Duration `env:"HOST_INTERVAL"    envDefault:"1s"`
	SyncSpec        string        `env:"SYNC_SPEC"        envDefault:"*/15 * * * *"`
	SyncConcurrency int           `env:"SYNC_CONCURRENCY" envDefault:"4"`
	LogLevel        slog.Level    `env:"LOG_LEVEL"        envDefault:"INFO"`
}

// BotEnabled reports whether a Telegram token was configured.
func (c Config) BotEnabled() bool {
	return c.Token != ""
}

func Parse() (Config, error) {
	return env.ParseAs[Config]()
}

func LoadConfig() Config {
	return env.Must(Parse())
}
