package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the sales pipeline service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	ShopID   string
	Language string

	DatabaseURL        string
	MemoryEmbeddingDim int

	MemoryWindowSize   int
	MemorySummaryEvery int
	SemanticTopK       int
	TaskQueueSize      int

	AgentMode      string
	AgentHTTPURL   string
	OpenAIAPIKey   string
	OpenAIModel    string
	EmbeddingModel string
	AgentRPS       float64

	StageTimeout    time.Duration
	JoinTimeout     time.Duration
	RequestDeadline time.Duration

	BreakerMaxFailures int
	BreakerCooldown    time.Duration

	RetryAttempts int
	RetryBase     time.Duration
	RetryCap      time.Duration

	SessionInactivityTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "salespilot"),
		AllowAnyOrigin:     false,
		ShopID:             envOrDefault("APP_SHOP_ID", "default"),
		Language:           envOrDefault("APP_LANGUAGE", "en"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		AgentMode:          envOrDefault("AGENT_MODE", "auto"),
		AgentHTTPURL:       stringsTrimSpace("AGENT_HTTP_URL"),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:        stringsTrimSpace("OPENAI_MODEL"),
		EmbeddingModel:     stringsTrimSpace("OPENAI_EMBEDDING_MODEL"),
		MemoryEmbeddingDim: 1536,
		MemoryWindowSize:   20,
		MemorySummaryEvery: 50,
		SemanticTopK:       3,
		TaskQueueSize:      256,
		AgentRPS:           5,
		ShutdownTimeout:    15 * time.Second,
		StageTimeout:       10 * time.Second,
		JoinTimeout:        12 * time.Second,
		RequestDeadline:    60 * time.Second,
		BreakerMaxFailures: 3,
		BreakerCooldown:    30 * time.Second,
		RetryAttempts:      3,
		RetryBase:          200 * time.Millisecond,
		RetryCap:           5 * time.Second,

		SessionInactivityTimeout: 30 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEmbeddingDim, err = intFromEnv("MEMORY_EMBEDDING_DIM", cfg.MemoryEmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryWindowSize, err = intFromEnv("MEMORY_WINDOW_SIZE", cfg.MemoryWindowSize)
	if err != nil {
		return Config{}, err
	}
	cfg.MemorySummaryEvery, err = intFromEnv("MEMORY_SUMMARY_EVERY", cfg.MemorySummaryEvery)
	if err != nil {
		return Config{}, err
	}
	cfg.SemanticTopK, err = intFromEnv("MEMORY_SEMANTIC_TOP_K", cfg.SemanticTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskQueueSize, err = intFromEnv("MEMORY_TASK_QUEUE_SIZE", cfg.TaskQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AgentRPS, err = floatFromEnv("AGENT_RPS", cfg.AgentRPS)
	if err != nil {
		return Config{}, err
	}
	cfg.StageTimeout, err = durationFromEnv("AGENT_STAGE_TIMEOUT", cfg.StageTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.JoinTimeout, err = durationFromEnv("AGENT_JOIN_TIMEOUT", cfg.JoinTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RequestDeadline, err = durationFromEnv("APP_REQUEST_DEADLINE", cfg.RequestDeadline)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerMaxFailures, err = intFromEnv("AGENT_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerCooldown, err = durationFromEnv("AGENT_BREAKER_COOLDOWN", cfg.BreakerCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.MemoryWindowSize <= 0 {
		return Config{}, fmt.Errorf("MEMORY_WINDOW_SIZE must be positive")
	}
	if cfg.MemorySummaryEvery <= 0 {
		return Config{}, fmt.Errorf("MEMORY_SUMMARY_EVERY must be positive")
	}
	if cfg.SemanticTopK <= 0 {
		return Config{}, fmt.Errorf("MEMORY_SEMANTIC_TOP_K must be positive")
	}
	if cfg.MemoryEmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if cfg.BreakerMaxFailures <= 0 {
		return Config{}, fmt.Errorf("AGENT_BREAKER_MAX_FAILURES must be positive")
	}
	if cfg.StageTimeout >= cfg.RequestDeadline {
		return Config{}, fmt.Errorf("AGENT_STAGE_TIMEOUT must be below APP_REQUEST_DEADLINE")
	}
	if cfg.JoinTimeout < cfg.StageTimeout {
		return Config{}, fmt.Errorf("AGENT_JOIN_TIMEOUT must cover AGENT_STAGE_TIMEOUT")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
