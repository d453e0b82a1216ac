package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDriver          string
	DBUser            string
	DBPassword        string
	DBName            string
	DBHost            string
	DBPort            string
	DBDSN             string
	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	OperationTimeout  time.Duration
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	UpdateGuardTTL    time.Duration
	BotToken          string
	HTTPAddr          string
	GinMode           string
	AdminAllowedCIDRs []string
	TrustedProxies    []string
	LogLevel          string
	LogFormat         string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBDriver:          getEnv("DB_DRIVER", "postgres"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "referral_bot"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBDSN:             getEnv("DB_DSN", ""),
		DBPath:            getEnv("DB_PATH", "referral_bot.db"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		OperationTimeout:  getEnvDuration("OPERATION_TIMEOUT", 5*time.Second),
		RedisHost:         getEnv("REDIS_HOST", ""),
		RedisPort:         getEnv("REDIS_PORT", "6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		UpdateGuardTTL:    getEnvDuration("UPDATE_GUARD_TTL", 10*time.Minute),
		BotToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		GinMode:           getEnv("GIN_MODE", "release"),
		AdminAllowedCIDRs: getEnvList("ADMIN_ALLOWED_CIDRS", []string{"127.0.0.1/32", "::1/128"}),
		TrustedProxies:    getEnvList("TRUSTED_PROXIES", nil),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid duration for %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

// getEnvList splits a comma separated value. An explicitly empty variable yields an empty list.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
