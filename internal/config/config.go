// Package config loads voxgate's settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szaher/voxgate/internal/llm"
)

// Environment variables that override file values.
const (
	EnvPort        = "PORT"
	EnvRegion      = "AWS_REGION"
	EnvModel       = "AWS_BEDROCK_MODEL"
	EnvAudioDir    = "AUDIO_DIR"
	EnvLogLevel    = "VOXGATE_LOG_LEVEL"
	EnvLLMProvider = "VOXGATE_LLM_PROVIDER"
	EnvAnthropic   = "ANTHROPIC_API_KEY"
	EnvGoogle      = "GOOGLE_API_KEY"
	EnvRateLimit   = "VOXGATE_RATE_LIMIT"
)

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Session    SessionConfig    `yaml:"session"`
	LLM        LLMConfig        `yaml:"llm"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Audio      AudioConfig      `yaml:"audio"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SessionConfig bounds the in-memory conversation store.
type SessionConfig struct {
	MaxSessions     int           `yaml:"max_sessions"`
	MaxHistory      int           `yaml:"max_history"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// SweepSchedule is an optional cron expression for a background sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LLMConfig selects the generation backend and its sampling parameters.
type LLMConfig struct {
	// Provider is optional. A "provider/" prefix on Model takes precedence,
	// and an empty value is inferred from the model name.
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Region      string  `yaml:"region"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	System      string  `yaml:"system"`
	APIKey      string  `yaml:"api_key"`
}

// TranscribeConfig selects the speech-to-text backend.
type TranscribeConfig struct {
	Provider     string        `yaml:"provider"`
	Region       string        `yaml:"region"`
	Bucket       string        `yaml:"bucket"`
	Language     string        `yaml:"language"`
	MediaFormat  string        `yaml:"media_format"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SampleRateHz int           `yaml:"sample_rate_hz"` // 0 reads the rate from the file header
}

// AudioConfig controls where uploads are kept and for how long.
type AudioConfig struct {
	Dir             string        `yaml:"dir"`
	Retention       time.Duration `yaml:"retention"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
}

// RateLimitConfig is a per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the settings the service has always shipped with.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  25 << 20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Session: SessionConfig{
			MaxSessions:     1000,
			MaxHistory:      20,
			IdleTimeout:     time.Hour,
			CleanupInterval: time.Hour,
		},
		LLM: LLMConfig{
			Model:       "anthropic.claude-3-sonnet-20240229-v1:0",
			Region:      "us-west-2",
			MaxTokens:   1000,
			Temperature: 0.7,
			TopP:        0.9,
		},
		Transcribe: TranscribeConfig{
			Provider:     "aws",
			Region:       "us-west-2",
			Bucket:       "crossover-audio",
			Language:     "zh-TW",
			MediaFormat:  "wav",
			PollInterval: 5 * time.Second,
		},
		Audio: AudioConfig{
			Dir:             "/tmp/audio",
			Retention:       24 * time.Hour,
			CleanupSchedule: "@hourly",
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 10, Burst: 20},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it. The environment is
// not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("config: invalid %s %q", EnvPort, v)
		}
		c.Server.Addr = ":" + v
	}
	if v := getenv(EnvRegion); v != "" {
		c.LLM.Region = v
		c.Transcribe.Region = v
	}
	if v := getenv(EnvModel); v != "" {
		c.LLM.Model = v
	}
	if v := getenv(EnvAudioDir); v != "" {
		c.Audio.Dir = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := getenv(EnvLLMProvider); v != "" {
		c.LLM.Provider = v
	}
	if c.LLM.APIKey == "" {
		switch provider, _ := llm.ResolveProvider(llm.Provider(c.LLM.Provider), c.LLM.Model); provider {
		case llm.ProviderAnthropic:
			c.LLM.APIKey = getenv(EnvAnthropic)
		case llm.ProviderGemini:
			c.LLM.APIKey = getenv(EnvGoogle)
		}
	}
	if v := getenv(EnvRateLimit); v != "" {
		// Format: "rate:burst", e.g. "10:20".
		parts := strings.SplitN(v, ":", 2)
		if rate, err := strconv.ParseFloat(parts[0], 64); err == nil && rate > 0 {
			c.RateLimit.RequestsPerSecond = rate
		}
		if len(parts) > 1 {
			if burst, err := strconv.Atoi(parts[1]); err == nil && burst > 0 {
				c.RateLimit.Burst = burst
			}
		}
	}
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Session.MaxSessions < 1 {
		errs = append(errs, errors.New("session.max_sessions must be at least 1"))
	}
	if c.Session.MaxHistory < 1 {
		errs = append(errs, errors.New("session.max_history must be at least 1"))
	}
	if c.Session.IdleTimeout < 0 || c.Session.CleanupInterval < 0 {
		errs = append(errs, errors.New("session durations must not be negative"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	switch provider, _ := llm.ResolveProvider(llm.Provider(c.LLM.Provider), c.LLM.Model); provider {
	case llm.ProviderAnthropic, llm.ProviderBedrock, llm.ProviderGemini, llm.ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, errors.New("llm.max_tokens must be at least 1"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		errs = append(errs, fmt.Errorf("llm.temperature must be in [0,1], got %g", c.LLM.Temperature))
	}
	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		errs = append(errs, fmt.Errorf("llm.top_p must be in (0,1], got %g", c.LLM.TopP))
	}
	if c.Audio.Dir == "" {
		errs = append(errs, errors.New("audio.dir is required"))
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel converts a level name such as "debug" or "WARN" to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Marshal renders the configuration as YAML. API keys are redacted.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "<redacted>"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}
