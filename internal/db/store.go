package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Spok95/streampoints/internal/ctxutil"
	"github.com/Spok95/streampoints/internal/models"
)

// Store — Postgres-реализация хранилища баллов.
type Store struct {
	db       *sql.DB
	defaults models.Settings
}

func NewStore(database *sql.DB, defaults models.Settings) *Store {
	return &Store{db: database, defaults: defaults}
}

// querier — *sql.DB или *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) LoadLedger(ctx context.Context, tenant string) ([]models.LedgerEntry, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()
	return loadLedger(ctx, s.db, tenant)
}

func loadLedger(ctx context.Context, q querier, tenant string) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
SELECT user_id, day, points
FROM ledger_entries
WHERE tenant_id = $1
ORDER BY day, user_id`, tenant)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.UserID, &e.Date, &e.Points); err != nil {
			return nil, err
		}
		e.Date = models.DateOf(e.Date)
		out = append(out, e)
	}
	return out, rows.Err()
}

const summaryColumns = `tenant_id, user_id, user_name, total_points, valid_days, first_day, last_day`

func scanSummary(rows *sql.Rows) ([]models.UserPoints, error) {
	var out []models.UserPoints
	for rows.Next() {
		var (
			u           models.UserPoints
			first, last sql.NullTime
		)
		if err := rows.Scan(&u.Tenant, &u.UserID, &u.UserName, &u.TotalPoints, &u.ValidDays, &first, &last); err != nil {
			return nil, err
		}
		if first.Valid {
			u.FirstDate = models.DateOf(first.Time)
		}
		if last.Valid {
			u.LastDate = models.DateOf(last.Time)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) LoadSummary(ctx context.Context, tenant string) ([]models.UserPoints, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()
	return loadSummary(ctx, s.db, tenant)
}

func loadSummary(ctx context.Context, q querier, tenant string) ([]models.UserPoints, error) {
	rows, err := q.QueryContext(ctx, `
SELECT `+summaryColumns+`
FROM user_points
WHERE tenant_id = $1
ORDER BY total_points DESC, user_id`, tenant)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSummary(rows)
}

// UpdateTenant: одна транзакция, advisory-lock арендатора берётся первым,
// чтение и запись идут под ним. Другие процессы с той же базой ждут.
func (s *Store) UpdateTenant(ctx context.Context, tenant string, fn models.UpdateFunc) (err error) {
	ctx, cancel := ctxutil.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenant); err != nil {
		return fmt.Errorf("tenant lock: %w", err)
	}

	var cur models.TenantState
	cur.LedgerErr = savepoint(ctx, tx, "load_ledger", func() (rerr error) {
		cur.Ledger, rerr = loadLedger(ctx, tx, tenant)
		return rerr
	})
	cur.SummaryErr = savepoint(ctx, tx, "load_summary", func() (rerr error) {
		cur.Summary, rerr = loadSummary(ctx, tx, tenant)
		return rerr
	})

	ledger, summary, err := fn(cur)
	if err != nil {
		return err
	}
	if err = writeTenant(ctx, tx, tenant, ledger, summary); err != nil {
		return err
	}
	return tx.Commit()
}

// savepoint: ошибка чтения откатывается к точке сохранения и не ломает
// транзакцию, запись после неё возможна.
func savepoint(ctx context.Context, tx *sql.Tx, name string, read func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := read(); err != nil {
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// SaveTenant перезаписывает состояние арендатора без чтения.
func (s *Store) SaveTenant(ctx context.Context, tenant string, ledger []models.LedgerEntry, summary []models.UserPoints) error {
	return s.UpdateTenant(ctx, tenant, func(models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
		return ledger, summary, nil
	})
}

func writeTenant(ctx context.Context, tx *sql.Tx, tenant string, ledger []models.LedgerEntry, summary []models.UserPoints) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries WHERE tenant_id = $1`, tenant); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_points WHERE tenant_id = $1`, tenant); err != nil {
		return err
	}

	if len(ledger) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO ledger_entries (tenant_id, user_id, day, points)
VALUES ($1, $2, $3::date, $4)
ON CONFLICT (tenant_id, user_id, day) DO UPDATE SET points = EXCLUDED.points`)
		if err != nil {
			return err
		}
		for _, e := range ledger {
			if _, err := stmt.ExecContext(ctx, tenant, e.UserID, e.Date.Format(models.DateLayout), e.Points); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("insert ledger entry %s/%s: %w", e.UserID, e.Date.Format(models.DateLayout), err)
			}
		}
		_ = stmt.Close()
	}

	if len(summary) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO user_points (tenant_id, user_id, user_name, total_points, valid_days, first_day, last_day)
VALUES ($1, $2, $3, $4, $5, $6::date, $7::date)`)
		if err != nil {
			return err
		}
		for _, u := range summary {
			if _, err := stmt.ExecContext(ctx, tenant, u.UserID, u.UserName, u.TotalPoints, u.ValidDays,
				nullDate(u.FirstDate), nullDate(u.LastDate)); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("insert summary row %s: %w", u.UserID, err)
			}
		}
		_ = stmt.Close()
	}
	return nil
}

func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(models.DateLayout), Valid: true}
}

func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT tenant_id FROM user_points
UNION
SELECT tenant_id FROM ledger_entries
ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SearchByName — подстрока ника без учёта регистра (strpos, без экранирования LIKE).
// Заглушки models.IsPlaceholderName не ищутся.
func (s *Store) SearchByName(ctx context.Context, query string) ([]models.UserPoints, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT `+summaryColumns+`
FROM user_points
WHERE strpos(lower(user_name), lower($1)) > 0
  AND user_name NOT IN ('', $2, 'unknown', 'nan')
ORDER BY total_points DESC, user_id
LIMIT 200`, query, models.UnknownUserName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSummary(rows)
}

// Settings: строка tenant_settings, иначе значения из окружения.
func (s *Store) Settings(ctx context.Context, tenant string) (models.Settings, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var st models.Settings
	err := s.db.QueryRowContext(ctx, `
SELECT min_duration_minutes, points_per_day, validity_days, strict_dates
FROM tenant_settings WHERE tenant_id = $1`, tenant).
		Scan(&st.MinDurationMinutes, &st.PointsPerDay, &st.ValidityDays, &st.StrictDates)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return s.defaults, err
	}
	return st, nil
}

func (s *Store) SaveSettings(ctx context.Context, tenant string, st models.Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tenant_settings (tenant_id, min_duration_minutes, points_per_day, validity_days, strict_dates, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (tenant_id) DO UPDATE SET
    min_duration_minutes = EXCLUDED.min_duration_minutes,
    points_per_day       = EXCLUDED.points_per_day,
    validity_days        = EXCLUDED.validity_days,
    strict_dates         = EXCLUDED.strict_dates,
    updated_at           = now()`,
		tenant, st.MinDurationMinutes, st.PointsPerDay, st.ValidityDays, st.StrictDates)
	return err
}

func (s *Store) RecordIngestion(ctx context.Context, rec models.Ingestion) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO ingestions (id, tenant_id, filename, rows_read, sessions, users, new_entries, success, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Tenant, rec.Filename, rec.Rows, rec.Sessions, rec.Users, rec.NewEntries,
		rec.Success, rec.Error, rec.CreatedAt)
	return err
}

func (s *Store) ListIngestions(ctx context.Context, tenant string, limit int) ([]models.Ingestion, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, tenant_id, filename, rows_read, sessions, users, new_entries, success, error, created_at
FROM ingestions
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Ingestion
	for rows.Next() {
		var r models.Ingestion
		if err := rows.Scan(&r.ID, &r.Tenant, &r.Filename, &r.Rows, &r.Sessions, &r.Users,
			&r.NewEntries, &r.Success, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
