package logging

import (
	"context"
	"strings"

	"github.com/Spok95/streampoints/internal/ctxutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Log struct {
	Base   *zap.Logger
	Sugar  *zap.SugaredLogger
	Level  zap.AtomicLevel
	Closer func()
}

func Init(level, env string) (*Log, error) {
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var cfg zap.Config
	if strings.ToLower(env) == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	return &Log{
		Base:   base,
		Sugar:  base.Sugar(),
		Level:  lvl,
		Closer: func() { _ = base.Sync() },
	}, nil
}

// Fields — арендатор, id загрузки и операция из контекста.
func Fields(ctx context.Context) []zap.Field {
	var out []zap.Field
	if t, ok := ctxutil.Tenant(ctx); ok {
		out = append(out, zap.String("tenant", t))
	}
	if id, ok := ctxutil.IngestionID(ctx); ok {
		out = append(out, zap.String("ingestion_id", id))
	}
	if op, ok := ctxutil.Op(ctx); ok {
		out = append(out, zap.String("op", op))
	}
	return out
}

// With добавляет к логгеру поля из контекста.
func With(ctx context.Context, log *zap.Logger) *zap.Logger {
	return log.With(Fields(ctx)...)
}
