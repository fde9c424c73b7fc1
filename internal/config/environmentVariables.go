package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

const (
	LOG_LEVEL_PROD              = slog.LevelInfo
	TRACE_ID_KEY                = "traceId"
	RATE_LIMIT_PER_SECOND       = 5
	BURST_RATE_LIMIT_PER_SECOND = 10
	LimiterIdleTTL              = 10 * time.Minute
	LimiterSweepInterval        = 1 * time.Minute

	RequestsPerNewWorkerCount int64 = 4
	MaxWorkerCount            int64 = 4
	MinWorkerCount            int64 = 1
	IdleWorkerTimeout               = 1 * time.Minute

	//serverTimeouts
	ReadTimeout            = 15 * time.Second
	WriteTimeout           = 30 * time.Second
	IdleTimeout            = 120 * time.Second
	ShutdownContextTimeout = 10 * time.Second

	ServerListenAddr = ":3000"

	//job requests buffer limit
	BufferLimit = 100

	//max upload for a page image / pdf in a json body
	MaxRequestBodyBytes = 32 << 20

	//engine
	EngineKindHTTP       = "http"
	EngineKindGemini     = "gemini"
	defaultEngineURL     = "http://127.0.0.1:5001"
	EngineRequestTimeout = 60 * time.Second
	GeminiModelName      = "gemini-2.5-flash"

	//runs can take many rounds against a slow engine
	JobExecutionTimeout = 10 * time.Minute

	MaxIdleConns        = 50
	MaxIdleConnsPerHost = 25
	IdleConnTimeout     = 60 * time.Second

	//redis
	redisHost = "127.0.0.1"
	redisPort = "6379"
	RedisAddr = redisHost + ":" + redisPort

	RedisJobStore      = 0
	RedisTemplateStore = 1

	RedisJobStoreTTL  = 24 * time.Hour

	//in-memory page images and review sessions
	SessionIdleTTL  = 1 * time.Hour
	JanitorInterval = 5 * time.Minute
	TemplateKeyPrefix = "template:"
)

// values that can be overridden from the environment (or a .env file loaded in main)
var (
	IS_PROD       = getEnvBool("LAYOUTLENS_PROD", false)
	NoAuthBypass  = getEnvBool("AUTH_BYPASS", true)
	AuthToken     = os.Getenv("AUTH_TOKEN")
	RedisPassword = os.Getenv("REDIS_PASSWORD")
	RedisAddress  = getEnv("REDIS_ADDR", RedisAddr)
	EngineKind    = getEnv("ENGINE_KIND", EngineKindHTTP)
	EngineURL     = getEnv("ENGINE_URL", defaultEngineURL)
	GeminiAPIKey  = os.Getenv("GEMINI_API_KEY")
	TuningFile    = os.Getenv("LAYOUTLENS_TUNING")
)

// Reload re-reads the environment backed values. Called after godotenv has populated the process env.
func Reload() {
	IS_PROD = getEnvBool("LAYOUTLENS_PROD", IS_PROD)
	NoAuthBypass = getEnvBool("AUTH_BYPASS", NoAuthBypass)
	AuthToken = getEnv("AUTH_TOKEN", AuthToken)
	RedisPassword = getEnv("REDIS_PASSWORD", RedisPassword)
	RedisAddress = getEnv("REDIS_ADDR", RedisAddress)
	EngineKind = getEnv("ENGINE_KIND", EngineKind)
	EngineURL = getEnv("ENGINE_URL", EngineURL)
	GeminiAPIKey = getEnv("GEMINI_API_KEY", GeminiAPIKey)
	TuningFile = getEnv("LAYOUTLENS_TUNING", TuningFile)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
