package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Spok95/streampoints/internal/ctxutil"
	"github.com/Spok95/streampoints/internal/metrics"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open открывает пул pgx через database/sql и проверяет соединение.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := Ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Ping с таймаутом БД и замером задержки.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()
	start := time.Now()
	err := db.PingContext(ctx)
	metrics.ObserveDBPing(time.Since(start))
	return err
}
