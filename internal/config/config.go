package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Spok95/streampoints/internal/models"
)

const (
	StorageFiles    = "files"
	StoragePostgres = "postgres"
)

type Config struct {
	Storage       string // files|postgres
	DatabaseURL   string
	DataDir       string
	Location      *time.Location
	HTTPAddr      string
	LogLevel      string
	Env           string // dev|prod
	SentryDSN     string
	BotToken      string // пусто — бот не запускаем
	AdminToken    string // пусто — загрузка без токена
	PruneInterval time.Duration
	Points        models.Settings
}

func Load() (*Config, error) {
	tz := getenv("TZ", "Asia/Shanghai")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		// неверная зона сдвигает даты сессий и границу 90 дней
		return nil, fmt.Errorf("TZ: %w", err)
	}

	cfg := &Config{
		Storage:    strings.ToLower(getenv("STORAGE", StorageFiles)),
		DataDir:    getenv("DATA_DIR", "./data"),
		Location:   loc,
		HTTPAddr:   getenv("HTTP_ADDR", ":8080"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		Env:        getenv("ENV", "dev"),
		SentryDSN:  os.Getenv("SENTRY_DSN"),
		BotToken:   os.Getenv("BOT_TOKEN"),
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	}

	switch cfg.Storage {
	case StorageFiles:
	case StoragePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for STORAGE=%s", StoragePostgres)
		}
	default:
		return nil, fmt.Errorf("STORAGE: unknown backend %q", cfg.Storage)
	}

	if cfg.PruneInterval, err = time.ParseDuration(getenv("PRUNE_INTERVAL", "6h")); err != nil {
		return nil, fmt.Errorf("PRUNE_INTERVAL: %w", err)
	}
	if cfg.Points, err = loadPoints(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadPoints() (models.Settings, error) {
	s := models.DefaultSettings()
	var err error
	if s.MinDurationMinutes, err = envFloat("POINTS_MIN_DURATION_MINUTES", s.MinDurationMinutes); err != nil {
		return s, err
	}
	if s.PointsPerDay, err = envInt("POINTS_PER_DAY", s.PointsPerDay); err != nil {
		return s, err
	}
	if s.ValidityDays, err = envInt("POINTS_VALIDITY_DAYS", s.ValidityDays); err != nil {
		return s, err
	}
	if v := os.Getenv("POINTS_STRICT_DATES"); v != "" {
		if s.StrictDates, err = strconv.ParseBool(v); err != nil {
			return s, fmt.Errorf("POINTS_STRICT_DATES: %w", err)
		}
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("points settings: %w", err)
	}
	return s, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: bad int %q: %w", k, v, err)
	}
	return n, nil
}

func envFloat(k string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: bad number %q: %w", k, v, err)
	}
	return f, nil
}
