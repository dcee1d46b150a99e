package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string         `yaml:"discord_token"`
	DatabasePath  string         `yaml:"database_path"`
	LogLevel      string         `yaml:"log_level"`
	DefaultPrefix string         `yaml:"default_prefix"`
	OwnerIDs      []string       `yaml:"owner_ids"`
	RetentionDays int            `yaml:"retention_days"`
	Health        HealthConfig   `yaml:"health"`
	Antinuke      AntinukeConfig `yaml:"antinuke"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AntinukeConfig struct {
	// LogChannelID is the environment-level fallback channel used when a
	// guild has no configured antinuke log channel.
	LogChannelID    string `yaml:"log_channel_id"`
	LookbackSeconds int    `yaml:"lookback_seconds"`
	AuditPageSize   int    `yaml:"audit_page_size"`
	DedupTTLMinutes int    `yaml:"dedup_ttl_minutes"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/nexon.db",
		LogLevel:      "info",
		DefaultPrefix: "!",
		RetentionDays: 14,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Antinuke: AntinukeConfig{
			LookbackSeconds: 20,
			AuditPageSize:   8,
			DedupTTLMinutes: 5,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = "!"
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultPrefix = envString("DEFAULT_PREFIX", cfg.DefaultPrefix)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Antinuke.LogChannelID = envString("ANTINUKE_LOG_CHANNEL_ID", cfg.Antinuke.LogChannelID)
	cfg.Antinuke.LookbackSeconds = envInt("ANTINUKE_LOOKBACK_SECONDS", cfg.Antinuke.LookbackSeconds)
	cfg.Antinuke.AuditPageSize = envInt("ANTINUKE_AUDIT_PAGE_SIZE", cfg.Antinuke.AuditPageSize)
	cfg.Antinuke.DedupTTLMinutes = envInt("ANTINUKE_DEDUP_TTL_MINUTES", cfg.Antinuke.DedupTTLMinutes)

	if owners := os.Getenv("NEXON_OWNER_IDS"); owners != "" {
		cfg.OwnerIDs = splitList(owners)
	}
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
