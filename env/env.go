package env

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// .env is optional; real environment variables take precedence
var _ = godotenv.Load()

var (
	Port               = getEnv("HTTP_PORT", "8080")
	ClickHouseAddr     = getEnv("CLICKHOUSE_ADDR", "localhost:9000")
	ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "monitor")
	ClickHouseUsername = getEnv("CLICKHOUSE_USERNAME", "default")
	ClickHousePassword = getEnv("CLICKHOUSE_PASSWORD", "")
	APIKey             = getEnv("API_KEY", "")
	LogLevel           = getEnv("LOG_LEVEL", "info")
	LogFormat          = getEnv("LOG_FORMAT", "json")
	TrendsEnabled      = getEnvBool("TRENDS_ENABLED", true)
	GlobalViews        = getEnvBool("GLOBAL_VIEWS", false)
	QueryTimeout       = getEnvDuration("QUERY_TIMEOUT", 30*time.Second)
	BreakerTimeout     = getEnvDuration("BREAKER_TIMEOUT", time.Minute)
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
