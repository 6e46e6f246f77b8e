package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings shared by the Lambda function and the HTTP server.
type Config struct {
	ParamPrefix        string
	OpenAIBaseURL      string
	OpenAIAPIKey       string
	OpenAIModel        string
	CaptionCacheTable  string
	CaptionCacheTTL    time.Duration
	MaxTranscriptBytes int
	StreamTimeout      time.Duration
	ModerationEnabled  bool
	Port               int
	RateLimitRPS       float64
	RateLimitBurst     int
	LogLevel           string
}

// ClientConfig holds the terminal client settings.
type ClientConfig struct {
	APIURL   string
	Timeout  time.Duration
	LogFile  string
	LogLevel string
}

func Load() Config {
	return Config{
		ParamPrefix:        strings.TrimRight(envStr("PARAM_PREFIX", "/transcript-chat"), "/"),
		OpenAIBaseURL:      envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:       envStr("OPENAI_API_KEY", ""),
		OpenAIModel:        envStr("OPENAI_MODEL", "gpt-4o-mini"),
		CaptionCacheTable:  envStr("CAPTION_CACHE_TABLE", ""),
		CaptionCacheTTL:    envDuration("CAPTION_CACHE_TTL", 24*time.Hour),
		MaxTranscriptBytes: envInt("MAX_TRANSCRIPT_BYTES", 500000),
		StreamTimeout:      envDuration("STREAM_TIMEOUT", 2*time.Minute),
		ModerationEnabled:  envBool("MODERATION_ENABLED", false),
		Port:               envInt("PORT", 8080),
		RateLimitRPS:       envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     envInt("RATE_LIMIT_BURST", 10),
		LogLevel:           envStr("LOG_LEVEL", "info"),
	}
}

func LoadClient() ClientConfig {
	return ClientConfig{
		APIURL:   strings.TrimRight(envStr("CHAT_API_URL", "http://localhost:8080"), "/"),
		Timeout:  envDuration("CHAT_TIMEOUT", 2*time.Minute),
		LogFile:  envStr("CHAT_LOG_FILE", ""),
		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

// Validate reports settings no binary can run with.
func (c Config) Validate() error {
	var errs []error
	if c.ParamPrefix == "" || !strings.HasPrefix(c.ParamPrefix, "/") {
		errs = append(errs, fmt.Errorf("PARAM_PREFIX must start with '/', got %q", c.ParamPrefix))
	}
	if c.MaxTranscriptBytes <= 0 {
		errs = append(errs, errors.New("MAX_TRANSCRIPT_BYTES must be positive"))
	}
	if c.StreamTimeout <= 0 {
		errs = append(errs, errors.New("STREAM_TIMEOUT must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Port))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("90s", "2m") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
