package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	LogLevel              string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// RedisAddr 非空时启用用户资料缓存。
	RedisAddr       string
	ProfileCacheTTL time.Duration

	// NATSURL 非空时把房间事件镜像到 NATS。
	NATSURL           string
	NATSSubjectPrefix string

	ShutdownTimeout time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数，其他情况返回 def。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatserver port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		Env:                   getenv("APP_ENV", "dev"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		ProfileCacheTTL:       time.Duration(getenvInt("PROFILE_CACHE_TTL_SECONDS", 300)) * time.Second,
		NATSURL:               os.Getenv("NATS_URL"),
		NATSSubjectPrefix:     getenv("NATS_SUBJECT_PREFIX", "chat.room"),
		ShutdownTimeout:       time.Duration(getenvInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

// Validate 拒绝不能用于启动服务的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("config: default JWT_SECRET is only allowed in dev")
	}
	return nil
}
