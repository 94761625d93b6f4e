package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	Env                   string
	JWTSecret             string
	JWTRefreshSecret      string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	MessageQueueCap       int
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	OAuthSuccessRedirect  string
	OAuthFailureRedirect  string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

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
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=zync port=5432 sslmode=disable TimeZone=UTC"),
		Env:                   getenv("APP_ENV", "dev"),
		JWTSecret:             getenv("JWT_SECRET", "secret-jwt-key"),
		JWTRefreshSecret:      getenv("JWT_REFRESH_SECRET", "secret-refresh-key"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		MessageQueueCap:       getenvInt("MESSAGE_QUEUE_CAP", 256),
		GoogleClientID:        getenv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getenv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getenv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/auth/google/callback"),
		OAuthSuccessRedirect:  getenv("OAUTH_SUCCESS_REDIRECT", "/chat"),
		OAuthFailureRedirect:  getenv("OAUTH_FAILURE_REDIRECT", "/signin"),
	}
}

// Validate 检查配置是否可用于启动。dev 环境允许默认密钥，其它环境一律拒绝。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if cfg.JWTSecret == cfg.JWTRefreshSecret {
		return errors.New("config: JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if cfg.Env != "dev" {
		if cfg.JWTSecret == "secret-jwt-key" {
			return errors.New("config: default JWT_SECRET is not allowed outside dev")
		}
		if cfg.JWTRefreshSecret == "secret-refresh-key" {
			return errors.New("config: default JWT_REFRESH_SECRET is not allowed outside dev")
		}
	}
	return nil
}
