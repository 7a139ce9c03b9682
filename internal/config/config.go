// Package config loads settings from defaults, an optional YAML file and the
// environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPaths are tried in order when no config file is given.
var DefaultPaths = []string{"minerallens.yaml", "/etc/minerallens/config.yaml"}

type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	VisionBackend string `yaml:"vision_backend"`

	GeminiAPIKey  string `yaml:"gemini_api_key"`
	GeminiModel   string `yaml:"gemini_model"`
	GeminiBaseURL string `yaml:"gemini_base_url"`

	ClaudeAPIKey  string `yaml:"claude_api_key"`
	ClaudeModel   string `yaml:"claude_model"`
	ClaudeBaseURL string `yaml:"claude_base_url"`

	OllamaHost  string `yaml:"ollama_host"`
	OllamaModel string `yaml:"ollama_model"`

	Temperature    float32       `yaml:"temperature"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	SessionTTL     time.Duration `yaml:"session_ttl"`

	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:     ":8080",
		VisionBackend:  "gemini",
		GeminiModel:    "gemini-2.5-flash",
		ClaudeModel:    "claude-sonnet-4-5",
		OllamaHost:     "http://localhost:11434",
		OllamaModel:    "llava",
		Temperature:    0.4,
		MaxUploadBytes: 20 << 20,
		SessionTTL:     time.Hour,
		LogLevel:       "info",
		LogMaxSizeMB:   100,
		LogMaxBackups:  3,
	}
}

// Load builds the configuration. An explicit path must exist; otherwise the
// first existing file of DefaultPaths is used, if any.
func Load(path string) (*Config, error) {
	cfg := defaults()

	paths := DefaultPaths
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) && path == "" {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
		break
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.VisionBackend = getEnv("VISION_BACKEND", c.VisionBackend)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", getEnv("API_KEY", c.GeminiAPIKey))
	c.GeminiModel = getEnv("GEMINI_MODEL", c.GeminiModel)
	c.GeminiBaseURL = getEnv("GEMINI_BASE_URL", c.GeminiBaseURL)
	c.ClaudeAPIKey = getEnv("CLAUDE_API_KEY", c.ClaudeAPIKey)
	c.ClaudeModel = getEnv("CLAUDE_MODEL", c.ClaudeModel)
	c.ClaudeBaseURL = getEnv("CLAUDE_BASE_URL", c.ClaudeBaseURL)
	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OllamaModel = getEnv("OLLAMA_MODEL", c.OllamaModel)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.OTelEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTelEndpoint)

	if v, ok := os.LookupEnv("TEMPERATURE"); ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("TEMPERATURE: %w", err)
		}
		c.Temperature = float32(f)
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := os.LookupEnv("SESSION_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	if err := envInt(&c.LogMaxSizeMB, "LOG_MAX_SIZE_MB"); err != nil {
		return err
	}
	if err := envInt(&c.LogMaxBackups, "LOG_MAX_BACKUPS"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("OTEL_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OTEL_ENABLED: %w", err)
		}
		c.OTelEnabled = b
	}
	return nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.VisionBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini backend")
		}
	case "claude":
		if c.ClaudeAPIKey == "" {
			return errors.New("CLAUDE_API_KEY is required for the claude backend")
		}
	case "ollama":
		if c.OllamaHost == "" {
			return errors.New("OLLAMA_HOST is required for the ollama backend")
		}
	default:
		return fmt.Errorf("unknown vision backend %q", c.VisionBackend)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func envInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
