package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Spok95/streampoints/internal/config"
	"github.com/Spok95/streampoints/internal/logging"
	"github.com/Spok95/streampoints/internal/observability"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const usage = `usage: streampoints <command> [flags]

commands:
  ingest    -tenant T FILE...        начислить баллы из выгрузок
  summary   -tenant T                сводка баллов
  list      -tenant T [filters]      список с фильтрами и страницами
  clear     -tenant T -user ID|all   удалить баллы пользователя или всех
  lookup    QUERY                    поиск по нику/ID во всех аккаунтах
  export    -tenant T -out FILE      сводка в xlsx
  settings  -tenant T [-min ...]     показать/изменить настройки начисления
  history   -tenant T                последние загрузки
  migrate                            накатить миграции (STORAGE=postgres)
  serve                              HTTP API, чистка по расписанию, бот
`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Не удалось загрузить .env файл, используем переменные окружения")
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		lg.Base.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg.Base, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		lg.Base.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		fmt.Fprintln(os.Stderr, "error:", err)
		lg.Closer()
		flush()
		os.Exit(1)
	}
}
