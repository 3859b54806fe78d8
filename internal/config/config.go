package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Analysis     AnalysisConfig
	Pipeline     PipelineConfig
	Knowledge    KnowledgeConfig
	Metrics      MetricsConfig
	Tracing      TracingConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// PoolSize of 0 keeps the go-redis default.
	PoolSize int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Encoding is "json" or "console".
	Encoding string
	Service  string
	// Output is a zap sink such as "stdout", "stderr" or a file path.
	Output string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig configures outbound Slack messages.
type NotificationConfig struct {
	SlackBotToken     string
	SlackAPIURL       string
	EscalationChannel string
	DedupTTLHours     int
}

// AnalysisConfig selects and configures the analysis provider.
type AnalysisConfig struct {
	Provider        string
	URL             string
	TimeoutSeconds  int
	AnthropicAPIKey string
	AnthropicModel  string
	MaxTokens       int64
}

// PipelineConfig tunes the job queue and worker pool.
type PipelineConfig struct {
	Workers             int
	MaxAttempts         int
	BackoffBaseSeconds  int
	PollIntervalMillis  int
	LeaseSeconds        int
	KeyPrefix           string
	CompletedTTLHours   int
	SchedulerBatchLimit int
}

// KnowledgeConfig points at the Elasticsearch cluster holding KB articles.
type KnowledgeConfig struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// TracingConfig toggles OpenTelemetry spans and picks where they go.
type TracingConfig struct {
	Enabled bool
	// Exporter is none, stdout or otlp.
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 0),
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
			Service:  getEnv("APP_NAME", "helpdesk-service"),
			Output:   getEnv("LOG_OUTPUT", "stdout"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			SlackBotToken:     os.Getenv("SLACK_BOT_TOKEN"),
			SlackAPIURL:       os.Getenv("SLACK_API_URL"),
			EscalationChannel: getEnv("SLACK_ESCALATION_CHANNEL", "#it-support-escalations"),
			DedupTTLHours:     getEnvAsInt("NOTIFY_DEDUP_TTL_HOURS", 72),
		},
		Analysis: AnalysisConfig{
			Provider:        strings.ToLower(getEnv("ANALYSIS_PROVIDER", "http")),
			URL:             getEnv("ANALYSIS_URL", "http://localhost:8001/process_ticket"),
			TimeoutSeconds:  getEnvAsInt("ANALYSIS_TIMEOUT_SECONDS", 30),
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			MaxTokens:       int64(getEnvAsInt("ANALYSIS_MAX_TOKENS", 2048)),
		},
		Pipeline: PipelineConfig{
			Workers:             getEnvAsInt("PIPELINE_WORKERS", 4),
			MaxAttempts:         getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 3),
			BackoffBaseSeconds:  getEnvAsInt("PIPELINE_BACKOFF_BASE_SECONDS", 60),
			PollIntervalMillis:  getEnvAsInt("PIPELINE_POLL_INTERVAL_MS", 500),
			LeaseSeconds:        getEnvAsInt("PIPELINE_LEASE_SECONDS", 120),
			KeyPrefix:           getEnv("PIPELINE_KEY_PREFIX", "helpdesk:jobs"),
			CompletedTTLHours:   getEnvAsInt("PIPELINE_COMPLETED_TTL_HOURS", 24),
			SchedulerBatchLimit: getEnvAsInt("PIPELINE_SCHEDULER_BATCH", 100),
		},
		Knowledge: KnowledgeConfig{
			Addresses: splitList(os.Getenv("ELASTICSEARCH_ADDRESSES")),
			Index:     getEnv("KB_INDEX", "helpdesk-kb"),
			Username:  os.Getenv("ELASTICSEARCH_USERNAME"),
			Password:  os.Getenv("ELASTICSEARCH_PASSWORD"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvAsBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "none"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			OTLPInsecure: getEnvAsBool("TRACING_OTLP_INSECURE", true),
		},
	}

	if cfg.Analysis.Provider == "anthropic" && cfg.Analysis.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when ANALYSIS_PROVIDER=anthropic")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the per-call analysis timeout.
func (a AnalysisConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (p PipelineConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseSeconds) * time.Second
}

// PollInterval returns how often idle workers look for jobs.
func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMillis) * time.Millisecond
}

// Lease returns how long a claimed job may run before it is redelivered.
func (p PipelineConfig) Lease() time.Duration {
	return time.Duration(p.LeaseSeconds) * time.Second
}

// CompletedTTL returns how long finished job records are retained.
func (p PipelineConfig) CompletedTTL() time.Duration {
	return time.Duration(p.CompletedTTLHours) * time.Hour
}

// DedupTTL returns the retention window of notification dedup markers.
func (n NotificationConfig) DedupTTL() time.Duration {
	return time.Duration(n.DedupTTLHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
