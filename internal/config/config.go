package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config carries all runtime configuration for the service binaries.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	CacheTTL time.Duration
}

type AuthConfig struct {
	TokenTTL time.Duration
}

type RateLimitConfig struct {
	PerSecond int
	Burst     int
	// Tighter budget for the unauthenticated tracked-link path.
	PublicPerSecond int
	PublicBurst     int
}

// Load reads configuration from the environment, with an optional config file
// pointed at by DEALGATE_CONFIG_FILE. Environment values win.
func Load() (*Config, error) {
	viper.AutomaticEnv()
	if p := os.Getenv("DEALGATE_CONFIG_FILE"); p != "" {
		viper.SetConfigFile(p)
		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getStringOrDefault("DEALGATE_ADDR", ":8080"),
			ShutdownTimeout: getDurationOrDefault("DEALGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN: getStringOrDefault("DEALGATE_PG_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     getStringOrDefault("DEALGATE_REDIS_ADDR", ""),
			CacheTTL: getDurationOrDefault("DEALGATE_COVERAGE_CACHE_TTL", time.Minute),
		},
		Auth: AuthConfig{
			TokenTTL: getDurationOrDefault("DEALGATE_TOKEN_TTL", time.Hour),
		},
		RateLimit: RateLimitConfig{
			PerSecond:       getIntOrDefault("DEALGATE_RATE_PER_SEC", 50),
			Burst:           getIntOrDefault("DEALGATE_RATE_BURST", 100),
			PublicPerSecond: getIntOrDefault("DEALGATE_PUBLIC_RATE_PER_SEC", 5),
			PublicBurst:     getIntOrDefault("DEALGATE_PUBLIC_RATE_BURST", 10),
		},
	}
	return cfg, nil
}

func getStringOrDefault(key, def string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return def
}

func getIntOrDefault(key string, def int) int {
	if v := viper.GetInt(key); v > 0 {
		return v
	}
	return def
}

func getDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := viper.GetDuration(key); v > 0 {
		return v
	}
	return def
}
