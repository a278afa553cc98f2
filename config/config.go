package config

import (
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"restaurant-review-app/models"

	"github.com/glebarez/sqlite"
	"github.com/ilyakaznacheev/cleanenv"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the shared database handle, set by InitDB.
var DB *gorm.DB

// Config captures all runtime configuration. SESSION_SECRET and a reachable
// Redis are required; the process fails fast without them.
type Config struct {
	Port          string `env:"PORT" env-default:"8080"`
	DBPath        string `env:"DB_PATH" env-default:"restaurant_review.db"`
	SessionSecret string `env:"SESSION_SECRET" env-required:"true"`

	RedisAddr     string `env:"REDIS_ADDR" env-default:""`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	// RedisURL overrides Addr/Password/DB when set, e.g. redis://:pass@host:6379/1
	RedisURL string `env:"REDIS_URL" env-default:""`

	SessionTTLHours  int `env:"SESSION_TTL_HOURS" env-default:"24"`
	ReadTimeoutSecs  int `env:"HTTP_READ_TIMEOUT_SECS" env-default:"10"`
	WriteTimeoutSecs int `env:"HTTP_WRITE_TIMEOUT_SECS" env-default:"10"`
	IdleTimeoutSecs  int `env:"HTTP_IDLE_TIMEOUT_SECS" env-default:"60"`
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if cfg.RedisURL != "" {
		addr, password, db, err := parseRedisURL(cfg.RedisURL)
		if err != nil {
			return Config{}, fmt.Errorf("REDIS_URL: %w", err)
		}
		cfg.RedisAddr = addr
		cfg.RedisPassword = password
		cfg.RedisDB = db
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.SessionTTLHours <= 0 {
		return Config{}, fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	return cfg, nil
}

// parseRedisURL extracts host:port, password and DB from a redis:// or
// rediss:// URL.
func parseRedisURL(s string) (addr, password string, db int, err error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", "", 0, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return "", "", 0, fmt.Errorf("scheme must be redis or rediss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", 0, fmt.Errorf("missing host")
	}
	addr = u.Host
	if u.User != nil {
		password, _ = u.User.Password()
	}
	if len(u.Path) > 1 {
		db, _ = strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
	}
	return addr, password, db, nil
}

// InitDB opens the database and migrates all models.
func InitDB(path string) {
	var err error
	DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	err = DB.AutoMigrate(
		&models.User{},
		&models.Restaurant{},
		&models.Rating{},
	)
	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
}
