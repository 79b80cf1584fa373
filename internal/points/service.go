package points

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Spok95/streampoints/internal/ctxutil"
	"github.com/Spok95/streampoints/internal/ingest"
	"github.com/Spok95/streampoints/internal/logging"
	"github.com/Spok95/streampoints/internal/metrics"
	"github.com/Spok95/streampoints/internal/models"
	"github.com/Spok95/streampoints/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClearAll — значение userID для Clear, очищающее всего арендатора.
const ClearAll = "all"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNoTenant     = errors.New("tenant is required")
)

// Store — хранилище журнала и сводки, разделённое по арендаторам.
type Store interface {
	LoadSummary(ctx context.Context, tenant string) ([]models.UserPoints, error)
	// UpdateTenant читает состояние, вызывает fn и целиком перезаписывает
	// журнал и сводку под блокировкой арендатора, общей для всех процессов
	// с тем же хранилищем. fn вызывается ровно один раз.
	UpdateTenant(ctx context.Context, tenant string, fn models.UpdateFunc) error
	Tenants(ctx context.Context) ([]string, error)
	// SearchByName — регистронезависимый поиск подстроки в нике по всем арендаторам.
	SearchByName(ctx context.Context, query string) ([]models.UserPoints, error)
}

type SettingsProvider interface {
	Settings(ctx context.Context, tenant string) (models.Settings, error)
}

type HistoryStore interface {
	RecordIngestion(ctx context.Context, rec models.Ingestion) error
	ListIngestions(ctx context.Context, tenant string, limit int) ([]models.Ingestion, error)
}

type Upload struct {
	Tenant   string
	Filename string
	Body     io.Reader
}

// Result — итог прогона для вызывающей стороны.
type Result struct {
	IngestionID string              `json:"ingestion_id,omitempty"`
	Tenant      string              `json:"tenant"`
	RowsRead    int                 `json:"rows_read"`
	Sessions    int                 `json:"sessions"`
	Users       int                 `json:"users"`
	NewEntries  int                 `json:"new_entries"`
	Pruned      int                 `json:"pruned"`
	Summary     []models.UserPoints `json:"summary"`
	Warnings    []string            `json:"warnings,omitempty"`
	Stats       ingest.Stats        `json:"-"`
}

type Service struct {
	store    Store
	settings SettingsProvider
	history  HistoryStore
	locks    *TenantLocker
	log      *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

func NewService(store Store, settings SettingsProvider, log *zap.Logger, loc *time.Location) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:    store,
		settings: settings,
		locks:    NewTenantLocker(),
		log:      log,
		loc:      loc,
		now:      time.Now,
	}
}

// WithHistory включает журнал загрузок.
func (s *Service) WithHistory(h HistoryStore) *Service {
	s.history = h
	return s
}

// WithClock подменяет часы (тесты, пересчёт задним числом).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Location() *time.Location { return s.loc }

// Today — текущий календарный день в зоне сервиса.
func (s *Service) Today() time.Time { return models.DateOf(s.now().In(s.loc)) }

// Settings — действующие настройки арендатора.
func (s *Service) Settings(ctx context.Context, tenant string) (models.Settings, error) {
	return s.loadSettings(ctx, tenant)
}

// Ingest разбирает файл и начисляет баллы. Любая ошибка, включая панику,
// возвращается как *ingest.Error.
func (s *Service) Ingest(ctx context.Context, up Upload) (res *Result, err error) {
	started := time.Now()
	id := uuid.NewString()
	ctx = ctxutil.WithOp(ctxutil.WithIngestionID(ctxutil.WithTenant(ctx, up.Tenant), id), "ingest")
	log := logging.With(ctx, s.log).With(zap.String("file", up.Filename))
	rec := models.Ingestion{ID: id, Tenant: up.Tenant, Filename: up.Filename, CreatedAt: s.now().UTC()}

	defer func() {
		if r := recover(); r != nil {
			log.Error("ingest panic", zap.Any("panic", r), zap.Stack("stack"))
			res, err = nil, ingest.Wrap(ingest.KindInternal, "ingestion failed unexpectedly", fmt.Errorf("panic: %v", r))
		}
		kind := ""
		if err != nil {
			if !errors.As(err, new(*ingest.Error)) {
				err = ingest.Wrap(ingest.KindInternal, "ingestion failed", err)
			}
			kind = string(ingest.KindOf(err))
			rec.Error = err.Error()
			if ingest.Recoverable(err) {
				log.Info("upload rejected", zap.String("kind", kind), zap.Error(err))
			} else {
				log.Error("ingest failed", zap.String("kind", kind), zap.Error(err))
				observability.CaptureTenantErr(err, up.Tenant, "ingest")
			}
		} else {
			rec.Success = true
			log.Info("upload ingested", zap.Int("sessions", res.Sessions),
				zap.Int("users", res.Users), zap.Int("new_entries", res.NewEntries),
				zap.Int("pruned", res.Pruned), zap.Int("warnings", len(res.Warnings)))
		}
		metrics.ObserveIngest(time.Since(started), kind)
		s.record(ctx, log, rec)
	}()

	if strings.TrimSpace(up.Tenant) == "" {
		return nil, ErrNoTenant
	}
	st, err := s.loadSettings(ctx, up.Tenant)
	if err != nil {
		return nil, err
	}
	format, err := ingest.FormatFromName(up.Filename)
	if err != nil {
		return nil, err
	}
	batch, err := ingest.Ingest(ctx, up.Body, format, ingest.Options{
		Settings: st, Now: s.now(), Location: s.loc, Log: log,
	})
	if err != nil {
		return nil, err
	}
	rec.Rows = batch.Stats.RowsRead
	rec.Sessions = len(batch.Sessions)

	res, err = s.accumulate(ctx, log, up.Tenant, batch.Sessions, st)
	if err != nil {
		return nil, err
	}
	res.IngestionID = id
	res.RowsRead = batch.Stats.RowsRead
	res.Stats = batch.Stats
	res.Warnings = append(append([]string(nil), batch.Warnings...), res.Warnings...)
	rec.Users = res.Users
	rec.NewEntries = res.NewEntries
	return res, nil
}

func (s *Service) loadSettings(ctx context.Context, tenant string) (models.Settings, error) {
	st, err := s.settings.Settings(ctx, tenant)
	if err != nil {
		return st, ingest.Wrap(ingest.KindStorage, "load settings", err)
	}
	if err := st.Validate(); err != nil {
		return st, ingest.Wrap(ingest.KindInternal, "invalid settings", err)
	}
	return st, nil
}

func (s *Service) record(ctx context.Context, log *zap.Logger, rec models.Ingestion) {
	if s.history == nil {
		return
	}
	ctx, cancel := ctxutil.WithDBTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.history.RecordIngestion(ctx, rec); err != nil {
		log.Warn("record ingestion history", zap.Error(err))
	}
}

// Accumulate вливает готовые сессии в журнал арендатора. С пустой пачкой
// только чистит просроченное.
func (s *Service) Accumulate(ctx context.Context, tenant string, sessions []models.SessionRecord, st models.Settings) (*Result, error) {
	if strings.TrimSpace(tenant) == "" {
		return nil, ErrNoTenant
	}
	return s.accumulate(ctx, s.log.With(zap.String("tenant", tenant)), tenant, sessions, st)
}

func (s *Service) accumulate(ctx context.Context, log *zap.Logger, tenant string, sessions []models.SessionRecord, st models.Settings) (*Result, error) {
	unlock := s.locks.Lock(tenant)
	defer unlock()

	res := &Result{Tenant: tenant, Sessions: len(sessions)}
	today := s.Today()

	cutoff := st.Cutoff(today)
	var presence []Presence
	users := map[string]struct{}{}
	for _, p := range DailyPresence(sessions) {
		if !p.Date.After(cutoff) {
			continue
		}
		presence = append(presence, p)
		users[p.UserID] = struct{}{}
	}
	names := BatchNames(sessions)

	var added, pruned, entries int
	err := s.store.UpdateTenant(ctx, tenant, func(cur models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
		ledger, previous := cur.Ledger, cur.Summary
		if cur.LedgerErr != nil {
			s.degrade(log, res, tenant, "ledger", cur.LedgerErr)
			ledger = nil
		}
		if cur.SummaryErr != nil {
			s.degrade(log, res, tenant, "summary", cur.SummaryErr)
			previous = nil
		}

		var merged []models.LedgerEntry
		merged, added = Merge(Dedupe(ledger), presence, st.PointsPerDay)
		kept, n := Prune(merged, today, st.ValidityDays)
		pruned = n
		kept = Dedupe(kept)
		entries = len(kept)
		res.Summary = MergeNames(Summarize(kept), previous, names)
		return kept, res.Summary, nil
	})
	if err != nil {
		return nil, ingest.Wrap(ingest.KindStorage, "save points", err)
	}
	metrics.LedgerAdded.Add(float64(added))
	metrics.LedgerPruned.Add(float64(pruned))
	log.Debug("ledger updated", zap.Int("entries", entries), zap.Int("added", added),
		zap.Int("pruned", pruned), zap.Int("users", len(res.Summary)))

	res.Users = len(users)
	res.NewEntries = added
	res.Pruned = pruned
	return res, nil
}

// degrade: прежнее состояние не читается — продолжаем с пустого, но явно.
func (s *Service) degrade(log *zap.Logger, res *Result, tenant, part string, err error) {
	log.Warn("prior state unreadable, starting from empty", zap.String("part", part), zap.Error(err))
	metrics.StateLoadFailures.Inc()
	observability.CaptureTenantErr(err, tenant, "load_"+part)
	res.Warnings = append(res.Warnings, fmt.Sprintf("previous %s could not be read and was reset: %v", part, err))
}

// Summary возвращает сохранённую сводку без изменений.
func (s *Service) Summary(ctx context.Context, tenant string) ([]models.UserPoints, error) {
	rows, err := s.store.LoadSummary(ctx, tenant)
	if err != nil {
		return nil, ingest.Wrap(ingest.KindStorage, "load summary", err)
	}
	out := append([]models.UserPoints(nil), rows...)
	SortByPoints(out)
	return out, nil
}

// Clear удаляет одного пользователя или (userID == ClearAll) всех.
// ID сравниваются как в Lookup: "7" и "007" — один пользователь.
func (s *Service) Clear(ctx context.Context, tenant, userID string) error {
	if strings.TrimSpace(tenant) == "" {
		return ErrNoTenant
	}
	unlock := s.locks.Lock(tenant)
	defer unlock()

	log := s.log.With(zap.String("tenant", tenant), zap.String("user_id", userID))
	if strings.EqualFold(strings.TrimSpace(userID), ClearAll) {
		err := s.store.UpdateTenant(ctx, tenant, func(models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
			return nil, nil, nil
		})
		if err != nil {
			return ingest.Wrap(ingest.KindStorage, "clear tenant", err)
		}
		log.Info("tenant points cleared")
		return nil
	}

	key := idKey(userID)
	err := s.store.UpdateTenant(ctx, tenant, func(cur models.TenantState) ([]models.LedgerEntry, []models.UserPoints, error) {
		if cur.LedgerErr != nil {
			return nil, nil, fmt.Errorf("load ledger: %w", cur.LedgerErr)
		}
		if cur.SummaryErr != nil {
			return nil, nil, fmt.Errorf("load summary: %w", cur.SummaryErr)
		}
		found := false
		ledger := cur.Ledger[:0:0]
		for _, e := range cur.Ledger {
			if idKey(e.UserID) == key {
				found = true
				continue
			}
			ledger = append(ledger, e)
		}
		summary := cur.Summary[:0:0]
		for _, u := range cur.Summary {
			if idKey(u.UserID) == key {
				found = true
				continue
			}
			summary = append(summary, u)
		}
		if !found {
			return nil, nil, ErrUserNotFound
		}
		return ledger, summary, nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return err
	}
	if err != nil {
		return ingest.Wrap(ingest.KindStorage, "clear user", err)
	}
	log.Info("user points cleared")
	return nil
}

// Filter — параметры админского списка.
type Filter struct {
	UserID    string
	UserName  string
	MinPoints *int
	MaxPoints *int
	SortBy    string // total_points|valid_days|user_id|user_name|last_date
	Desc      bool
	Page      int
	PerPage   int
}

type Page struct {
	Items   []models.UserPoints `json:"items"`
	Total   int                 `json:"total"`
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
	Pages   int                 `json:"pages"`
}

const (
	defaultPerPage = 20
	maxPerPage     = 500
)

func (s *Service) List(ctx context.Context, tenant string, f Filter) (*Page, error) {
	rows, err := s.Summary(ctx, tenant)
	if err != nil {
		return nil, err
	}
	return Paginate(rows, f), nil
}

// Paginate фильтрует, сортирует и режет сводку на страницы.
func Paginate(rows []models.UserPoints, f Filter) *Page {
	idQ := strings.ToLower(strings.TrimSpace(f.UserID))
	nameQ := strings.ToLower(strings.TrimSpace(f.UserName))
	var out []models.UserPoints
	for _, u := range rows {
		if idQ != "" && !strings.Contains(strings.ToLower(u.UserID), idQ) {
			continue
		}
		if nameQ != "" && !strings.Contains(strings.ToLower(u.UserName), nameQ) {
			continue
		}
		if f.MinPoints != nil && u.TotalPoints < *f.MinPoints {
			continue
		}
		if f.MaxPoints != nil && u.TotalPoints > *f.MaxPoints {
			continue
		}
		out = append(out, u)
	}

	if less := sortKey(f.SortBy); less != nil {
		sort.SliceStable(out, func(i, j int) bool {
			if f.Desc {
				return less(out[j], out[i])
			}
			return less(out[i], out[j])
		})
	}

	per := f.PerPage
	if per <= 0 {
		per = defaultPerPage
	}
	if per > maxPerPage {
		per = maxPerPage
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	p := &Page{Total: len(out), Page: page, PerPage: per, Pages: (len(out) + per - 1) / per}
	from := (page - 1) * per
	if from < len(out) {
		to := from + per
		if to > len(out) {
			to = len(out)
		}
		p.Items = out[from:to]
	}
	return p
}

func sortKey(by string) func(a, b models.UserPoints) bool {
	switch by {
	case "total_points":
		return func(a, b models.UserPoints) bool { return a.TotalPoints < b.TotalPoints }
	case "valid_days":
		return func(a, b models.UserPoints) bool { return a.ValidDays < b.ValidDays }
	case "user_id":
		return func(a, b models.UserPoints) bool { return a.UserID < b.UserID }
	case "user_name":
		return func(a, b models.UserPoints) bool { return a.UserName < b.UserName }
	case "last_date":
		return func(a, b models.UserPoints) bool { return a.LastDate.Before(b.LastDate) }
	}
	return nil
}

type TenantStats struct {
	TotalUsers  int `json:"total_users"`
	TotalPoints int `json:"total_points"`
	ActiveUsers int `json:"active_users"`
}

func (s *Service) Stats(ctx context.Context, tenant string) (TenantStats, error) {
	rows, err := s.Summary(ctx, tenant)
	if err != nil {
		return TenantStats{}, err
	}
	st := TenantStats{TotalUsers: len(rows)}
	for _, u := range rows {
		st.TotalPoints += u.TotalPoints
		if u.TotalPoints > 0 {
			st.ActiveUsers++
		}
	}
	return st, nil
}

// Lookup — публичный поиск по всем арендаторам: сначала подстрока ника,
// затем точный UserID без учёта ведущих нулей.
func (s *Service) Lookup(ctx context.Context, query string) ([]models.UserPoints, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	rows, err := s.store.SearchByName(ctx, q)
	if err != nil {
		return nil, ingest.Wrap(ingest.KindStorage, "search by name", err)
	}
	if len(rows) > 0 {
		SortByPoints(rows)
		return rows, nil
	}

	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return nil, ingest.Wrap(ingest.KindStorage, "list tenants", err)
	}
	want := idKey(q)
	for _, t := range tenants {
		sum, err := s.store.LoadSummary(ctx, t)
		if err != nil {
			s.log.Warn("lookup: skip unreadable tenant", zap.String("tenant", t), zap.Error(err))
			continue
		}
		for _, u := range sum {
			if idKey(u.UserID) == want {
				u.Tenant = t
				rows = append(rows, u)
			}
		}
	}
	SortByPoints(rows)
	return rows, nil
}

// idKey: "007" и "7" — один и тот же пользователь.
func idKey(id string) string {
	id = ingest.CanonicalUserID(id)
	for _, r := range id {
		if r < '0' || r > '9' {
			return id
		}
	}
	if t := strings.TrimLeft(id, "0"); t != "" {
		return t
	}
	return "0"
}

// PruneAll прогоняет пустую пачку по каждому арендатору.
func (s *Service) PruneAll(ctx context.Context) (int, error) {
	tenants, err := s.store.Tenants(ctx)
	if err != nil {
		return 0, ingest.Wrap(ingest.KindStorage, "list tenants", err)
	}
	total := 0
	var errs []error
	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		st, err := s.loadSettings(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t, err))
			continue
		}
		res, err := s.Accumulate(ctx, t, nil, st)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t, err))
			continue
		}
		total += res.Pruned
	}
	return total, errors.Join(errs...)
}

func (s *Service) History(ctx context.Context, tenant string, limit int) ([]models.Ingestion, error) {
	if s.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.history.ListIngestions(ctx, tenant, limit)
}
