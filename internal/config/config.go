package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"chatsync/internal/content"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	TransportWS    = "ws"
	TransportNATS  = "nats"
	TransportRedis = "redis"
)

type Config struct {
	Transport     string
	WSURL         string
	NATSURL       string
	RedisAddr     string
	RedisPassword string
	UserID        string
	CacheFile     string
	TypingTTL     time.Duration
	ListenAddr    string
	LogLevel      string
	LogFormat     string
}

// fileConfig is the optional TOML file named by CHATSYNC_CONFIG. Environment
// variables override it.
type fileConfig struct {
	Transport string `toml:"transport"`
	UserID    string `toml:"user_id"`
	CacheFile string `toml:"cache_file"`
	TypingTTL string `toml:"typing_ttl"`
	WS        struct {
		URL    string `toml:"url"`
		Listen string `toml:"listen"`
	} `toml:"ws"`
	NATS struct {
		URL string `toml:"url"`
	} `toml:"nats"`
	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
	} `toml:"redis"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads the configuration. serverMode skips the checks that only a
// syncing client needs.
func Load(serverMode bool) (*Config, error) {
	file, err := readFile(os.Getenv("CHATSYNC_CONFIG"))
	if err != nil {
		return nil, err
	}

	typingTTL, err := time.ParseDuration(getEnv("CHATSYNC_TYPING_TTL", or(file.TypingTTL, "3s")))
	if err != nil {
		return nil, fmt.Errorf("CHATSYNC_TYPING_TTL: %w", err)
	}

	cfg := &Config{
		Transport:     getEnv("CHATSYNC_TRANSPORT", or(file.Transport, TransportWS)),
		WSURL:         getEnv("CHATSYNC_WS_URL", or(file.WS.URL, "ws://localhost:8080/ws")),
		NATSURL:       getEnv("CHATSYNC_NATS_URL", or(file.NATS.URL, "nats://localhost:4222")),
		RedisAddr:     getEnv("CHATSYNC_REDIS_ADDR", or(file.Redis.Addr, "localhost:6379")),
		RedisPassword: getEnv("CHATSYNC_REDIS_PASSWORD", file.Redis.Password),
		UserID:        getEnv("CHATSYNC_USER_ID", file.UserID),
		CacheFile:     getEnv("CHATSYNC_CACHE_FILE", or(file.CacheFile, "chatsync.db")),
		TypingTTL:     typingTTL,
		ListenAddr:    getEnv("CHATSYNC_LISTEN_ADDR", or(file.WS.Listen, ":8080")),
		LogLevel:      getEnv("CHATSYNC_LOG_LEVEL", or(file.Log.Level, "info")),
		LogFormat:     getEnv("CHATSYNC_LOG_FORMAT", or(file.Log.Format, "text")),
	}

	if err := cfg.Validate(serverMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(serverMode bool) error {
	switch c.Transport {
	case TransportWS, TransportNATS, TransportRedis:
	default:
		return fmt.Errorf("CHATSYNC_TRANSPORT must be one of ws, nats, redis, got %q", c.Transport)
	}

	if !serverMode {
		if c.UserID == "" {
			return fmt.Errorf("CHATSYNC_USER_ID is required")
		}
		if err := content.ValidateID(c.UserID); err != nil {
			return fmt.Errorf("CHATSYNC_USER_ID: %w", err)
		}
	}

	if c.TypingTTL <= 0 {
		return fmt.Errorf("CHATSYNC_TYPING_TTL must be greater than 0")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("CHATSYNC_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	return nil
}

// Logger builds the process logger from the log settings.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("CHATSYNC_LOG_LEVEL: %w", err)
	}
	return level, nil
}

func readFile(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return cfg, nil
}

func or(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
