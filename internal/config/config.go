package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents configuration loaded from YAML with environment
// overrides applied on top.
type FileConfig struct {
	Addr            string   `yaml:"addr"`
	LogLevel        string   `yaml:"logLevel"`
	DatabaseURL     string   `yaml:"databaseURL"`
	ModelURL        string   `yaml:"modelURL"`
	ModelTimeout    string   `yaml:"modelTimeout"`
	TranslateURL    string   `yaml:"translateURL"`
	TranslateAPIKey string   `yaml:"translateAPIKey"`
	DefaultResponse string   `yaml:"defaultResponse"`
	DefaultGenre    string   `yaml:"defaultGenre"`
	UserName        string   `yaml:"userName"`
	WaifuName       string   `yaml:"waifuName"`
	AllowedOrigins  []string `yaml:"allowedOrigins"`
	RedisAddr       string   `yaml:"redisAddr"`
	RedisPassword   string   `yaml:"redisPassword"`
	ChatRateLimit   int      `yaml:"chatRateLimit"`
	ChatRateWindow  string   `yaml:"chatRateWindow"`
	TrustedProxies  []string `yaml:"trustedProxies"`
}

// Defaults returns the built-in configuration.
func Defaults() FileConfig {
	return FileConfig{
		Addr:            ":5000",
		LogLevel:        "info",
		DatabaseURL:     "dialogs.db",
		ModelURL:        "http://localhost:80/path/",
		ModelTimeout:    "10s",
		TranslateURL:    "https://translation.googleapis.com/language/translate/v2",
		DefaultResponse: "The AI model is currently unavailable. Please try again later.",
		DefaultGenre:    "Romance",
		UserName:        "User",
		WaifuName:       "Waifu",
		AllowedOrigins:  []string{"*"},
		ChatRateLimit:   60,
		ChatRateWindow:  "1m",
	}
}

// Load reads config from path when given and applies environment
// overrides. An empty path skips the file and uses defaults plus
// environment only.
func Load(path string) (FileConfig, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Addr = ":" + strings.TrimSpace(v)
	}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_FILE"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MODEL_URL"); v != "" {
		cfg.ModelURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("MODEL_TIMEOUT"); v != "" {
		cfg.ModelTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRANSLATE_URL"); v != "" {
		cfg.TranslateURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRANSLATE_API_KEY"); v != "" {
		cfg.TranslateAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("DEFAULT_RESPONSE"); v != "" {
		cfg.DefaultResponse = v
	}
	if v := os.Getenv("DEFAULT_GENRE"); v != "" {
		cfg.DefaultGenre = v
	}
	if v := os.Getenv("USER_NAME"); v != "" {
		cfg.UserName = v
	}
	if v := os.Getenv("WAIFU_NAME"); v != "" {
		cfg.WaifuName = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CHAT_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.ChatRateLimit = n
		}
	}
	if v := os.Getenv("CHAT_RATE_WINDOW"); v != "" {
		cfg.ChatRateWindow = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ModelTimeoutDuration returns the model call timeout.
func (c FileConfig) ModelTimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(c.ModelTimeout) == "" {
		return 10 * time.Second, nil
	}
	dur, err := time.ParseDuration(c.ModelTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid modelTimeout duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: modelTimeout must be positive")
	}
	return dur, nil
}

// ChatRateWindowDuration returns the chat rate limiter window.
func (c FileConfig) ChatRateWindowDuration() (time.Duration, error) {
	if strings.TrimSpace(c.ChatRateWindow) == "" {
		return time.Minute, nil
	}
	dur, err := time.ParseDuration(c.ChatRateWindow)
	if err != nil {
		return 0, fmt.Errorf("invalid chatRateWindow duration: %w", err)
	}
	if dur <= 0 {
		return 0, errors.New("config: chatRateWindow must be positive")
	}
	return dur, nil
}

func validateConfig(cfg FileConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return errors.New("config: addr is required (set in config.yaml or ADDR)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.ModelURL) == "" {
		return errors.New("config: modelURL is required (set in config.yaml or MODEL_URL)")
	}
	if _, err := cfg.ModelTimeoutDuration(); err != nil {
		return err
	}
	if cfg.ChatRateLimit < 0 {
		return errors.New("config: chatRateLimit must be >= 0")
	}
	if strings.TrimSpace(cfg.TranslateAPIKey) != "" && strings.TrimSpace(cfg.TranslateURL) == "" {
		return errors.New("config: translateURL is required when translateAPIKey is set")
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		if _, err := cfg.ChatRateWindowDuration(); err != nil {
			return err
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
